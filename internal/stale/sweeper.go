package stale

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelci/modelci/internal/forge"
	"github.com/modelci/modelci/internal/metrics"
	"github.com/modelci/modelci/internal/pipeline"
	"github.com/modelci/modelci/pkg/modelci/core"
)

// ForgeAPI is the slice of the forge client a sweep needs.
type ForgeAPI interface {
	ListOpenItems(ctx context.Context) ([]forge.Item, error)
	AddLabel(ctx context.Context, number int, label string) error
	RemoveLabel(ctx context.Context, number int, label string) error
	Comment(ctx context.Context, number int, body string) error
	Close(ctx context.Context, number int) error
}

// Result summarises one sweep.
type Result struct {
	Marked     int
	Closed     int
	Skipped    int
	Operations int
}

// Sweeper applies a stale policy to the open issues and pull requests of one
// repository. Windows are measured against the item's last update; a window
// of zero or less disables that action.
type Sweeper struct {
	api    ForgeAPI
	clock  core.Clock
	policy pipeline.StalePolicy
}

const defaultOperationsPerRun = 30

func NewSweeper(api ForgeAPI, clock core.Clock, policy pipeline.StalePolicy) *Sweeper {
	return &Sweeper{api: api, clock: clock, policy: policy}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Sweeper) exempt(item forge.Item) bool {
	exemptLabels := s.policy.ExemptIssueLabels
	if item.IsPullRequest {
		exemptLabels = s.policy.ExemptPRLabels
	}
	for _, l := range exemptLabels {
		if contains(item.Labels, l) {
			return true
		}
	}
	return false
}

func (s *Sweeper) windows(item forge.Item) (staleAfter, closeAfter int) {
	if item.IsPullRequest {
		return s.policy.DaysBeforePRStale, s.policy.DaysBeforePRClose
	}
	return s.policy.DaysBeforeIssueStale, s.policy.DaysBeforeIssueClose
}

func itemType(item forge.Item) string {
	if item.IsPullRequest {
		return "pull_request"
	}
	return "issue"
}

// Sweep walks every open item once. Each label, comment or close call counts
// against the operation budget; the sweep stops when the budget is spent and
// the remainder waits for the next scheduled run.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result

	budget := s.policy.OperationsPerRun
	if budget <= 0 {
		budget = defaultOperationsPerRun
	}

	items, err := s.api.ListOpenItems(ctx)
	if err != nil {
		return res, fmt.Errorf("listing open items: %w", err)
	}

	now := s.clock.Now()
	for _, item := range items {
		if res.Operations >= budget {
			slog.Info("Stale sweep operation budget spent", "budget", budget)
			break
		}
		if s.exempt(item) {
			res.Skipped++
			continue
		}

		staleAfter, closeAfter := s.windows(item)
		idleDays := int(now.Sub(item.UpdatedAt) / (24 * time.Hour))
		hasStaleLabel := contains(item.Labels, s.policy.StaleLabel)

		switch {
		case hasStaleLabel && closeAfter > 0 && idleDays >= closeAfter:
			if err := s.api.Close(ctx, item.Number); err != nil {
				return res, fmt.Errorf("closing %s %d: %w", itemType(item), item.Number, err)
			}
			res.Closed++
			res.Operations++
			metrics.StaleActions.WithLabelValues("close", itemType(item)).Inc()
			slog.Info("Closed stale item", "number", item.Number, "type", itemType(item), "idle_days", idleDays)

		case !hasStaleLabel && staleAfter > 0 && idleDays >= staleAfter:
			if err := s.api.AddLabel(ctx, item.Number, s.policy.StaleLabel); err != nil {
				return res, fmt.Errorf("labeling %s %d: %w", itemType(item), item.Number, err)
			}
			res.Operations++
			if err := s.api.Comment(ctx, item.Number, s.staleComment(item, closeAfter)); err != nil {
				return res, fmt.Errorf("commenting on %s %d: %w", itemType(item), item.Number, err)
			}
			res.Marked++
			res.Operations++
			metrics.StaleActions.WithLabelValues("mark", itemType(item)).Inc()
			slog.Info("Marked item stale", "number", item.Number, "type", itemType(item), "idle_days", idleDays)

		default:
			res.Skipped++
		}
	}

	return res, nil
}

func (s *Sweeper) staleComment(item forge.Item, closeAfter int) string {
	kind := "issue"
	if item.IsPullRequest {
		kind = "pull request"
	}
	if closeAfter > 0 {
		return fmt.Sprintf(
			"This %s has been marked as stale because it has had no activity. It will be closed in %d days unless the %s label is removed or there is new activity.",
			kind, closeAfter, s.policy.StaleLabel)
	}
	return fmt.Sprintf(
		"This %s has been marked as stale because it has had no activity. Remove the %s label or comment to keep it open.",
		kind, s.policy.StaleLabel)
}
