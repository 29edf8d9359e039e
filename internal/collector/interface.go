package collector

import (
	"context"
	"time"

	"github.com/newthinker/quantsim/internal/core"
)

// Config holds provider configuration
type Config struct {
	Dir     string        // Root directory of file based providers
	BaseURL string        // Endpoint override for HTTP providers
	Timeout time.Duration // Per request timeout for HTTP providers
}

// Provider loads historical bars for one symbol. Returned bars may be
// unsorted; callers pass them through Normalize.
type Provider interface {
	Name() string
	FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.Bar, error)
}
