package domain

import "time"

type FlowDefinition struct {
	Name        string
	Description string
	Created     time.Time
	Updated     time.Time
	FlowChart   string
}
