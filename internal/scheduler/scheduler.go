package scheduler

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/modelci/modelci/internal/config"
	"github.com/modelci/modelci/internal/flows"
	"github.com/modelci/modelci/internal/pipeline"
	"github.com/modelci/modelci/pkg/modelci/core"
	"github.com/modelci/modelci/pkg/modelci/domain"
)

// Enqueuer accepts new runs for execution.
type Enqueuer interface {
	EnqueueRun(run *domain.Run) (int64, error)
}

// RunFinder looks up runs by external id, used to dedupe schedule fires.
type RunFinder interface {
	FindByExternalId(id string) (*domain.Run, error)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler fires cron triggers for loaded pipelines. Every tick it computes
// which schedule entries are due in the current minute and enqueues one run
// per entry, keyed by a deterministic external id so two instances ticking
// the same minute enqueue the run once.
type Scheduler struct {
	Defs    *pipeline.Loader
	Dir     string
	Manager Enqueuer
	Runs    RunFinder
	Clock   core.Clock
}

func New(loader *pipeline.Loader, dir string, manager Enqueuer, runs RunFinder, clock core.Clock) *Scheduler {
	return &Scheduler{Defs: loader, Dir: dir, Manager: manager, Runs: runs, Clock: clock}
}

// Start runs the schedule loop until the context is cancelled. Ticks are more
// frequent than a minute so a slow tick cannot skip one; Fire dedupes.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	slog.Info("Scheduler started", "pipeline_dir", s.Dir)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Scheduler stopping due to context cancel")
			return
		case <-ticker.C:
			s.Fire(ctx, s.Clock.Now().UTC().Truncate(time.Minute))
		}
	}
}

// Fire enqueues every schedule entry due at the given minute.
func (s *Scheduler) Fire(ctx context.Context, minute time.Time) {
	defs, err := s.Defs.LoadDir(s.Dir)
	if err != nil {
		slog.ErrorContext(ctx, "Scheduler could not load pipelines", "error", err)
		return
	}

	for _, p := range defs {
		for _, entry := range p.On.Schedule {
			sched, err := cronParser.Parse(entry.Cron)
			if err != nil {
				// validated at load, but a pipeline may have been edited
				slog.ErrorContext(ctx, "Skipping invalid cron", "pipeline", p.Name, "cron", entry.Cron, "error", err)
				continue
			}
			if !sched.Next(minute.Add(-time.Second)).Equal(minute) {
				continue
			}
			s.fireEntry(ctx, p, entry.Cron, minute)
		}
	}
}

func (s *Scheduler) fireEntry(ctx context.Context, p *pipeline.Pipeline, cronExpr string, minute time.Time) {
	if len(p.Jobs) > 0 {
		s.enqueue(ctx, p, cronExpr, minute, flows.FlowTypePipeline)
	}
	if p.Stale != nil {
		s.enqueue(ctx, p, cronExpr, minute, flows.FlowTypeStaleSweep)
	}
}

func (s *Scheduler) enqueue(ctx context.Context, p *pipeline.Pipeline, cronExpr string, minute time.Time, flowType string) {
	externalID := scheduleExternalID(p.Name, cronExpr, minute, flowType)
	if existing, err := s.Runs.FindByExternalId(externalID); err != nil {
		slog.ErrorContext(ctx, "Error checking for existing scheduled run", "error", err)
		return
	} else if existing != nil {
		return
	}

	branch := config.GetSystemSettingString(config.DEFAULT_BRANCH)
	ev := pipeline.Event{Kind: pipeline.EventSchedule, Branch: branch, Pipeline: p.Name, RunID: externalID}
	group, cancel := pipeline.ResolveGroup(p, ev)

	vars := map[string]string{
		flows.VarPipeline: p.Name,
		flows.VarBranch:   branch,
		flows.VarEvent:    string(pipeline.EventSchedule),
	}
	if cancel {
		vars[flows.VarCancelInProgress] = "true"
	}
	data, err := json.Marshal(vars)
	if err != nil {
		slog.ErrorContext(ctx, "Error marshaling scheduled run vars", "error", err)
		return
	}

	run := &domain.Run{
		FlowType:       flowType,
		ExternalID:     externalID,
		ConcurrencyKey: group,
		StateVars:      sql.NullString{String: string(data), Valid: true},
	}
	id, err := s.Manager.EnqueueRun(run)
	if err != nil {
		// the unique external id also catches the race where another
		// instance enqueued between the lookup and the save
		slog.WarnContext(ctx, "Could not enqueue scheduled run", "pipeline", p.Name, "error", err)
		return
	}
	slog.InfoContext(ctx, "Enqueued scheduled run", "pipeline", p.Name, "cron", cronExpr, "run_id", id, "flow_type", flowType)
}

// scheduleExternalID is stable for one pipeline, cron entry, flow type and
// minute, which is what makes schedule fires idempotent.
func scheduleExternalID(name, cronExpr string, minute time.Time, flowType string) string {
	sum := sha256.Sum256([]byte(cronExpr + "|" + flowType))
	return fmt.Sprintf("sched-%s-%s-%s", name, hex.EncodeToString(sum[:4]), minute.Format("200601021504"))
}
