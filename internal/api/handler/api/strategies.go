package api

import (
	"net/http"

	"github.com/newthinker/quantsim/internal/api/response"
	"github.com/newthinker/quantsim/internal/strategy/catalog"
)

// StrategyInfo describes one catalog entry.
type StrategyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListStrategies returns every strategy the catalog can build, by name.
func ListStrategies(w http.ResponseWriter, r *http.Request) {
	desc := catalog.Describe()
	out := make([]StrategyInfo, 0, len(desc))
	for _, name := range catalog.Names() {
		out = append(out, StrategyInfo{Name: name, Description: desc[name]})
	}
	response.JSON(w, http.StatusOK, map[string]any{"strategies": out})
}
