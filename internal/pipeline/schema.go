package pipeline

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/modelci/modelci/pkg/providers"
)

// Pipeline is one CI definition loaded from a yaml file. Jobs is keyed by
// job id; map order is irrelevant, expansion sorts ids before spawning.
type Pipeline struct {
	Name        string            `yaml:"name"`
	On          Triggers          `yaml:"on"`
	Concurrency *Concurrency      `yaml:"concurrency"`
	Env         map[string]string `yaml:"env"`
	Jobs        map[string]Job    `yaml:"jobs"`
	Stale       *StalePolicy      `yaml:"stale"`
}

// JobIDs returns the job ids in sorted order, the order jobs are expanded in.
func (p *Pipeline) JobIDs() []string {
	ids := make([]string, 0, len(p.Jobs))
	for id := range p.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type Triggers struct {
	Push        *BranchFilter      `yaml:"push"`
	PullRequest *PullRequestFilter `yaml:"pull_request"`
	Schedule    []ScheduleEntry    `yaml:"schedule"`
	Dispatch    *DispatchFilter    `yaml:"dispatch"`
	Label       *LabelFilter       `yaml:"label"`
}

// BranchFilter selects branches by glob. BranchesIgnore wins when both are
// set and a branch matches both lists.
type BranchFilter struct {
	Branches       []string `yaml:"branches"`
	BranchesIgnore []string `yaml:"branches-ignore"`
}

type PullRequestFilter struct {
	Branches []string `yaml:"branches"`
	// Types defaults to opened, synchronize and reopened. Including "labeled"
	// lets a label event start this pipeline for gated suites.
	Types []string `yaml:"types"`
}

type ScheduleEntry struct {
	Cron string `yaml:"cron"`
}

type DispatchFilter struct {
	Inputs []string `yaml:"inputs"`
}

type LabelFilter struct {
	Names []string `yaml:"names"`
}

type Concurrency struct {
	Group            string `yaml:"group"`
	CancelInProgress bool   `yaml:"cancel-in-progress"`
}

type Job struct {
	Name           string             `yaml:"name"`
	RunsOn         []string           `yaml:"runs-on"`
	Strategy       *Strategy          `yaml:"strategy"`
	Session        *providers.Profile `yaml:"session"`
	Steps          []Step             `yaml:"steps"`
	Env            map[string]string  `yaml:"env"`
	Needs          []string           `yaml:"needs"`
	TimeoutMinutes int                `yaml:"timeout-minutes"`
}

type Strategy struct {
	Matrix      Matrix `yaml:"matrix"`
	FailFast    *bool  `yaml:"fail-fast"`
	MaxParallel int    `yaml:"max-parallel"`
}

func (s *Strategy) FailFastEnabled() bool {
	if s == nil || s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

type Step struct {
	Name            string            `yaml:"name"`
	Run             string            `yaml:"run"`
	Env             map[string]string `yaml:"env"`
	Tests           *TestSpec         `yaml:"tests"`
	WorkingDir      string            `yaml:"working-dir"`
	ContinueOnError bool              `yaml:"continue-on-error"`
}

// TestSpec names a pytest invocation declaratively so pipelines do not carry
// shell one-liners for the common case.
type TestSpec struct {
	Paths     []string `yaml:"paths"`
	Verbose   bool     `yaml:"verbose"`
	Quiet     bool     `yaml:"quiet"`
	FailFast  bool     `yaml:"fail-fast"`
	Markers   []string `yaml:"markers"`
	Keyword   string   `yaml:"keyword"`
	Durations int      `yaml:"durations"`
}

// StalePolicy configures the scheduled issue and PR sweep for one repository.
// Windows are in days of inactivity, measured from the item's last update.
type StalePolicy struct {
	DaysBeforeIssueStale int      `yaml:"days-before-issue-stale"`
	DaysBeforePRStale    int      `yaml:"days-before-pr-stale"`
	DaysBeforeIssueClose int      `yaml:"days-before-issue-close"`
	DaysBeforePRClose    int      `yaml:"days-before-pr-close"`
	ExemptIssueLabels    []string `yaml:"exempt-issue-labels"`
	ExemptPRLabels       []string `yaml:"exempt-pr-labels"`
	StaleLabel           string   `yaml:"stale-label"`
	OperationsPerRun     int      `yaml:"operations-per-run"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the whole definition and reports every problem at once.
func (p *Pipeline) Validate() error {
	var result *multierror.Error

	if p.Name == "" {
		result = multierror.Append(result, fmt.Errorf("pipeline name is required"))
	}
	for _, entry := range p.On.Schedule {
		if _, err := cronParser.Parse(entry.Cron); err != nil {
			result = multierror.Append(result, fmt.Errorf("invalid cron %q: %w", entry.Cron, err))
		}
	}
	if len(p.Jobs) == 0 && p.Stale == nil {
		result = multierror.Append(result, fmt.Errorf("pipeline %q has no jobs", p.Name))
	}
	for id, job := range p.Jobs {
		if len(job.Steps) == 0 {
			result = multierror.Append(result, fmt.Errorf("job %q has no steps", id))
		}
		for _, need := range job.Needs {
			if _, ok := p.Jobs[need]; !ok {
				result = multierror.Append(result, fmt.Errorf("job %q needs unknown job %q", id, need))
			}
		}
		for i, step := range job.Steps {
			if step.Run == "" && step.Tests == nil {
				result = multierror.Append(result, fmt.Errorf("job %q step %d has neither run nor tests", id, i))
			}
			if step.Run != "" && step.Tests != nil {
				result = multierror.Append(result, fmt.Errorf("job %q step %d has both run and tests", id, i))
			}
		}
		if job.Session != nil {
			if err := job.Session.Validate(nil); err != nil {
				result = multierror.Append(result, fmt.Errorf("job %q session: %w", id, err))
			}
		}
	}
	if p.Stale != nil {
		if p.Stale.StaleLabel == "" {
			result = multierror.Append(result, fmt.Errorf("stale policy needs a stale-label"))
		}
	}
	return result.ErrorOrNil()
}
