package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/newthinker/quantsim/internal/api/response"
	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/storage/runindex"
)

const defaultRunLimit = 50

// RunView is the wire form of an indexed run.
type RunView struct {
	ID             string    `json:"id"`
	Strategy       string    `json:"strategy"`
	ArchivePath    string    `json:"archive_path,omitempty"`
	SavedAt        time.Time `json:"saved_at"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	TotalReturn    *float64  `json:"total_return"`
	SharpeRatio    *float64  `json:"sharpe_ratio"`
	MaxDrawdown    *float64  `json:"max_drawdown"`
	TotalTrades    int       `json:"total_trades"`
	MetricsError   string    `json:"metrics_error,omitempty"`
}

// RunsHandler lists previously stored runs.
type RunsHandler struct {
	runner Runner
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(runner Runner) *RunsHandler {
	return &RunsHandler{runner: runner}
}

// List returns indexed runs, optionally filtered by ?strategy= and capped by ?limit=.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := runindex.Filter{Strategy: q.Get("strategy"), Limit: defaultRunLimit}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			response.Error(w, http.StatusBadRequest, core.Errorf(core.ErrConfigInvalid, "limit %q", limit))
			return
		}
		filter.Limit = n
	}

	runs, err := h.runner.Runs(r.Context(), filter)
	if err != nil {
		response.Fail(w, err)
		return
	}

	out := make([]RunView, 0, len(runs))
	for _, s := range runs {
		out = append(out, RunView{
			ID:             s.ID,
			Strategy:       s.Strategy,
			ArchivePath:    s.ArchivePath,
			SavedAt:        s.SavedAt,
			StartDate:      s.StartDate,
			EndDate:        s.EndDate,
			InitialCapital: s.InitialCapital,
			FinalEquity:    s.FinalEquity,
			TotalReturn:    s.TotalReturn,
			SharpeRatio:    s.SharpeRatio,
			MaxDrawdown:    s.MaxDrawdown,
			TotalTrades:    s.TotalTrades,
			MetricsError:   s.MetricsError,
		})
	}
	response.JSON(w, http.StatusOK, map[string]any{"runs": out, "limit": filter.Limit})
}
