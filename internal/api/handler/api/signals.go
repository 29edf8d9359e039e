package api

import (
	"net/http"

	"github.com/newthinker/quantsim/internal/api/response"
	"github.com/newthinker/quantsim/internal/signal"
)

// SignalsRequest is the request body for generating signals.
type SignalsRequest struct {
	Strategy StrategyRequest `json:"strategy"`
	Data     DataRequest     `json:"data"`
}

// SignalsHandler generates strategy signals without running a backtest.
type SignalsHandler struct {
	runner Runner
}

// NewSignalsHandler creates a new signals handler.
func NewSignalsHandler(runner Runner) *SignalsHandler {
	return &SignalsHandler{runner: runner}
}

// Generate answers synchronously with the merged, time ordered signals.
func (h *SignalsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req SignalsRequest
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

	ctx := r.Context()
	bars, err := win.load(ctx, h.runner)
	if err != nil {
		response.Fail(w, err)
		return
	}
	streams, err := h.runner.Signals(ctx, sc, bars)
	if err != nil {
		response.Fail(w, err)
		return
	}
	events, err := signal.Merge(streams)
	if err != nil {
		response.Fail(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"strategy": sc.DisplayName(),
		"count":    len(events),
		"signals":  events,
	})
}
