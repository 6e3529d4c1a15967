package pipeline

import "path"

type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
	EventLabel       EventKind = "label"
	EventDispatch    EventKind = "dispatch"
	EventSchedule    EventKind = "schedule"
)

// Event is a normalised trigger: a forge webhook payload, a manual dispatch
// or a due schedule, reduced to the fields matching cares about.
type Event struct {
	Kind     EventKind
	Branch   string
	Action   string // pull_request action, e.g. opened, synchronize, labeled
	Label    string // label name for label events and labeled PR actions
	Pipeline string // target pipeline for dispatch and schedule events
	RunID    string
	Inputs   map[string]string
}

var defaultPRTypes = []string{"opened", "synchronize", "reopened"}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// matchBranch applies glob patterns; an ignore match always wins.
func (f *BranchFilter) matchBranch(branch string) bool {
	for _, pattern := range f.BranchesIgnore {
		if ok, _ := path.Match(pattern, branch); ok {
			return false
		}
	}
	if len(f.Branches) == 0 {
		return true
	}
	for _, pattern := range f.Branches {
		if ok, _ := path.Match(pattern, branch); ok {
			return true
		}
	}
	return false
}

// Matches reports whether the event should start this pipeline.
func (p *Pipeline) Matches(ev Event) bool {
	switch ev.Kind {
	case EventPush:
		return p.On.Push != nil && p.On.Push.matchBranch(ev.Branch)
	case EventPullRequest:
		f := p.On.PullRequest
		if f == nil {
			return false
		}
		types := f.Types
		if len(types) == 0 {
			types = defaultPRTypes
		}
		if !contains(types, ev.Action) {
			return false
		}
		if ev.Action == "labeled" {
			// Label gating: only run when the added label is one the
			// pipeline declares interest in.
			if p.On.Label == nil || !contains(p.On.Label.Names, ev.Label) {
				return false
			}
		}
		if len(f.Branches) == 0 {
			return true
		}
		for _, pattern := range f.Branches {
			if ok, _ := path.Match(pattern, ev.Branch); ok {
				return true
			}
		}
		return false
	case EventLabel:
		return p.On.Label != nil && contains(p.On.Label.Names, ev.Label)
	case EventDispatch:
		// Every pipeline is dispatchable by name, trigger block or not.
		return ev.Pipeline == p.Name
	case EventSchedule:
		if len(p.On.Schedule) == 0 {
			return false
		}
		return ev.Pipeline == "" || ev.Pipeline == p.Name
	}
	return false
}

// MatchTriggers filters defs down to the pipelines the event starts.
func MatchTriggers(defs []*Pipeline, ev Event) []*Pipeline {
	var matched []*Pipeline
	for _, p := range defs {
		if p.Matches(ev) {
			matched = append(matched, p)
		}
	}
	return matched
}
