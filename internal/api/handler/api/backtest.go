package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/quantsim/internal/api/job"
	"github.com/newthinker/quantsim/internal/api/response"
	"github.com/newthinker/quantsim/internal/backtest"
	"github.com/newthinker/quantsim/internal/config"
	"github.com/newthinker/quantsim/internal/core"
)

const backtestTimeout = 5 * time.Minute

// BacktestRequest is the request body for starting a backtest.
type BacktestRequest struct {
	Strategy StrategyRequest `json:"strategy"`
	Data     DataRequest     `json:"data"`
}

// CompareRequest is the request body for a side by side comparison.
type CompareRequest struct {
	Strategies []StrategyRequest `json:"strategies"`
	Data       DataRequest       `json:"data"`
}

// CompareEntry is one strategy's outcome in a comparison. Exactly one of
// Result and Error is set.
type CompareEntry struct {
	Name   string                `json:"name"`
	Result *backtest.Result      `json:"result,omitempty"`
	Error  *response.ErrorDetail `json:"error,omitempty"`
}

// BacktestHandler runs backtests and comparisons as background jobs.
type BacktestHandler struct {
	jobStore *job.Store
	runner   Runner
	logger   *zap.Logger
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewBacktestHandler creates a new backtest handler. Jobs run until they
// finish, time out or Close is called.
func NewBacktestHandler(jobStore *job.Store, runner Runner, logger *zap.Logger) *BacktestHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &BacktestHandler{
		jobStore: jobStore,
		runner:   runner,
		logger:   logger,
		timeout:  backtestTimeout,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Create starts a new backtest job.
func (h *BacktestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, err)
		return
	}
	sc, err := req.Strategy.resolve()
	if err != nil {
		response.Fail(w, err)
		return
	}
	win, err := req.Data.parse()
	if err != nil {
		response.Fail(w, err)
		return
	}

	h.start(w, "backtest", func(ctx context.Context) (any, error) {
		bars, err := win.load(ctx, h.runner)
		if err != nil {
			return nil, err
		}
		return h.runner.Backtest(ctx, sc, bars)
	})
}

// Compare starts a job running several strategies over the same bars.
func (h *BacktestHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Strategies) == 0 {
		response.Error(w, http.StatusBadRequest, core.Errorf(core.ErrConfigMissing, "no strategies to compare"))
		return
	}
	entries := make([]config.StrategyConfig, 0, len(req.Strategies))
	for _, s := range req.Strategies {
		sc, err := s.resolve()
		if err != nil {
			response.Fail(w, err)
			return
		}
		entries = append(entries, sc)
	}
	win, err := req.Data.parse()
	if err != nil {
		response.Fail(w, err)
		return
	}

	h.start(w, "compare", func(ctx context.Context) (any, error) {
		bars, err := win.load(ctx, h.runner)
		if err != nil {
			return nil, err
		}
		results, err := h.runner.Compare(ctx, entries, bars)
		if err != nil {
			return nil, err
		}
		out := make([]CompareEntry, len(results))
		for i, br := range results {
			out[i] = CompareEntry{Name: br.Name, Result: br.Result}
			if br.Err != nil {
				detail := response.Detail(failure(br.Err))
				out[i].Error = &detail
			}
		}
		return out, nil
	})
}

// start registers a job, answers 202 and runs fn in the background.
func (h *BacktestHandler) start(w http.ResponseWriter, jobType string, fn func(context.Context) (any, error)) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		response.Error(w, http.StatusServiceUnavailable, core.Errorf(core.ErrRunCancelled, "server shutting down"))
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	j := h.jobStore.Create(jobType)
	go func() {
		defer h.wg.Done()
		h.run(j.ID, fn)
	}()

	response.JSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
	})
}

// run executes fn and records its outcome on the job.
func (h *BacktestHandler) run(jobID string, fn func(context.Context) (any, error)) {
	h.jobStore.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusRunning
	})

	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()
	result, err := fn(ctx)

	if err != nil {
		h.logger.Warn("job failed", zap.String("job_id", jobID), zap.Error(err))
		h.jobStore.Update(jobID, func(j *job.Job) {
			j.Status = job.StatusFailed
			j.Err = failure(err)
		})
		return
	}

	h.jobStore.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusComplete
		j.Progress = 100
		j.Result = result
	})
}

// failure gives uncoded errors the RUN_FAILED code so clients see the cause.
func failure(err error) error {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return err
	}
	return core.WrapError(core.ErrRunFailed, err)
}

// GetStatus returns the status of a job.
func (h *BacktestHandler) GetStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	j, err := h.jobStore.Get(jobID)
	if err != nil {
		response.Fail(w, err)
		return
	}

	resp := map[string]any{
		"job_id":   j.ID,
		"type":     j.Type,
		"status":   j.Status,
		"progress": j.Progress,
	}

	if j.Status == job.StatusComplete {
		resp["result"] = j.Result
	}
	if j.Status == job.StatusFailed && j.Err != nil {
		resp["error"] = response.Detail(j.Err)
	}

	response.JSON(w, http.StatusOK, resp)
}

// ListJobs returns every retained job without results, newest first.
func (h *BacktestHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobStore.List()
	for i := range jobs {
		jobs[i].Result = nil
	}
	response.JSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// Close cancels running jobs and waits for them to record their outcome.
func (h *BacktestHandler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}
