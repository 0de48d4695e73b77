package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rvullo/fixlab/internal/models"
	"github.com/rvullo/fixlab/internal/runset"
)

// Pair is one unit of work: a trial under a condition.
type Pair struct {
	Trial     models.Trial
	Condition models.Condition
}

// Coordinator fans a batch of pairs over a bounded worker pool and
// appends every outcome to the run set before the worker returns.
// Re-running the same run set resumes: pairs with a terminal record
// are skipped unless forced.
type Coordinator struct {
	Exec        *TrialExecutor
	Store       *runset.Store
	Concurrency int

	// Force re-runs every pair. ForceErrors re-runs only pairs whose
	// latest record is an error outcome; pass and fail are measured
	// results and stay put.
	Force       bool
	ForceErrors bool

	Log *slog.Logger
}

// Plan expands trials × conditions into the pairs this run would
// execute, applying resume rules. Skipped pairs are returned
// separately so callers can report them.
func (c *Coordinator) Plan(trials []models.Trial, conds []models.Condition) (todo, skipped []Pair) {
	for _, trial := range trials {
		for _, cond := range conds {
			pair := Pair{Trial: trial, Condition: cond}
			prev, ok := c.Store.Lookup(trial.ID, cond)
			switch {
			case !ok || c.Force:
				todo = append(todo, pair)
			case prev.Outcome == models.OutcomeError && c.ForceErrors:
				todo = append(todo, pair)
			case prev.Outcome.Terminal():
				skipped = append(skipped, pair)
			default:
				todo = append(todo, pair)
			}
		}
	}
	return todo, skipped
}

// Run executes the batch. Cancelling ctx stops feeding new pairs;
// pairs already running finish and record, so a resumed run set never
// contains a half-executed pair. The returned error is non-nil only
// when a record could not be persisted.
func (c *Coordinator) Run(ctx context.Context, trials []models.Trial, conds []models.Condition) (models.RunSummary, error) {
	summary := models.RunSummary{StartedAt: time.Now()}

	if err := c.Exec.Runner.Sweep(ctx); err != nil {
		c.Log.Warn("sandbox sweep failed", "error", err)
	}

	todo, skipped := c.Plan(trials, conds)
	summary.Total = len(todo) + len(skipped)
	summary.Skipped = len(skipped)
	if len(skipped) > 0 {
		c.Log.Info("resuming run set", "skipped", len(skipped), "remaining", len(todo))
	}

	limit := c.Concurrency
	if limit <= 0 {
		limit = 1
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(limit)

	// Workers get a detached context: once started, a pair runs to
	// completion and records even if the batch is cancelled.
	workCtx := context.WithoutCancel(ctx)

	for _, pair := range todo {
		if ctx.Err() != nil {
			summary.Cancelled = true
			c.Log.Warn("cancelled, waiting for in-flight trials")
			break
		}
		pair := pair
		g.Go(func() error {
			rec := c.Exec.Execute(workCtx, pair.Trial, pair.Condition)
			if err := c.Store.Append(rec); err != nil {
				return err
			}
			mu.Lock()
			summary.Executed++
			switch rec.Outcome {
			case models.OutcomePass:
				summary.Passes++
			case models.OutcomeFail:
				summary.Fails++
			case models.OutcomeError:
				summary.Errors++
			}
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	summary.EndedAt = time.Now()
	summary.DurationSec = summary.EndedAt.Sub(summary.StartedAt).Seconds()
	return summary, err
}
