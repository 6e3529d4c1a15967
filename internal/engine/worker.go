package engine

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/modelci/modelci/internal/metrics"
	"github.com/modelci/modelci/pkg/modelci/core"
)

// Worker processes runs from the queue until the context is cancelled.
func Worker(ctx context.Context, id int, runnerID int64, runRepo RunRepo, runActionRepo RunActionRepo, runQueue <-chan core.Flow) {
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker stopping due to context cancel", "worker_id", id)
			return
		case f := <-runQueue:
			metrics.QueueDepth.Set(float64(len(runQueue)))
			slog.InfoContext(ctx, "Worker starting run", "worker_id", id)
			ExecuteFlow(ctx, f, runRepo, runActionRepo, runnerID, strconv.Itoa(id))
			slog.InfoContext(ctx, "Worker finished run", "worker_id", id)
		}
	}
}
