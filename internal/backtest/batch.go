package backtest

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newthinker/quantsim/internal/core"
)

// Job is one independent run in a batch.
type Job struct {
	Name     string
	Input    Input
	Settings Settings
}

// BatchResult pairs a job with its outcome. Exactly one of Result and Err is set.
type BatchResult struct {
	Name   string
	Result *Result
	Err    error
}

// RunBatch runs independent jobs with at most parallelism runs in flight and
// returns their outcomes in job order. A failed job does not stop the others.
// Cancelling ctx cancels every run still in progress.
func (o *Orchestrator) RunBatch(ctx context.Context, jobs []Job, parallelism int) ([]BatchResult, error) {
	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if job.Name == "" {
			return nil, core.Errorf(core.ErrConfigInvalid, "batch job has no name")
		}
		if seen[job.Name] {
			return nil, core.Errorf(core.ErrConfigInvalid, "duplicate batch job %q", job.Name)
		}
		seen[job.Name] = true
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	results := make([]BatchResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(parallelism)

	for i, job := range jobs {
		g.Go(func() error {
			if job.Input.Strategy == "" {
				job.Input.Strategy = job.Name
			}
			res, err := o.Run(ctx, job.Input, job.Settings)
			results[i] = BatchResult{Name: job.Name, Result: res, Err: err}
			if err != nil {
				o.logger.Warn("batch job failed", zap.String("job", job.Name), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// Succeeded returns the completed results keyed by job name.
func Succeeded(results []BatchResult) map[string]*Result {
	out := make(map[string]*Result, len(results))
	for _, r := range results {
		if r.Err == nil && r.Result != nil {
			out[r.Name] = r.Result
		}
	}
	return out
}
