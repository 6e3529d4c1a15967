package models

import "github.com/modelci/modelci/pkg/modelci/domain"

type SearchRunRequest struct {
	ID             int64  `json:"id"`
	ExternalID     string `json:"externalId"`
	RunnerGroup    string `json:"runnerGroup"`
	FlowType       string `json:"flowType"`
	ConcurrencyKey string `json:"concurrencyKey"`
	State          string `json:"state"`
	Status         string `json:"status"`
	Limit          int64  `json:"limit"`
	Offset         int64  `json:"offset"`
}

type SearchRunResponse struct {
	Results int          `json:"results"`
	Runs    []domain.Run `json:"runs"`
	Offset  int64        `json:"offset"`
}
