package pipeline

import "strings"

// ResolveGroup computes the concurrency group for a run of p triggered by ev,
// and whether in-flight runs of that group should be cancelled.
//
// With no concurrency block the default group is pipeline-branch so pushes to
// the same branch still queue behind each other; events without a branch fall
// back to the run id, a unique group that never cancels anything.
func ResolveGroup(p *Pipeline, ev Event) (string, bool) {
	if p.Concurrency == nil || p.Concurrency.Group == "" {
		if ev.Branch == "" {
			return "run-" + ev.RunID, false
		}
		cancel := false
		if p.Concurrency != nil {
			cancel = p.Concurrency.CancelInProgress
		}
		return p.Name + "-" + ev.Branch, cancel
	}

	group := p.Concurrency.Group
	group = strings.ReplaceAll(group, "${{ pipeline }}", p.Name)
	group = strings.ReplaceAll(group, "${{ branch }}", ev.Branch)
	group = strings.ReplaceAll(group, "${{ run_id }}", ev.RunID)
	group = strings.TrimSpace(group)
	if group == "" || group == "-" {
		return "run-" + ev.RunID, false
	}
	return group, p.Concurrency.CancelInProgress
}
