package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/quantsim/internal/backtest"
	"github.com/newthinker/quantsim/internal/core"
)

const runsRoot = "runs"

// Record identifies one archived run
type Record struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Strategy string    `json:"strategy"`
	SavedAt  time.Time `json:"saved_at"`
}

type envelope struct {
	Record
	Result *backtest.Result `json:"result"`
}

// Archiver stores run results as JSON documents under
// runs/<strategy>/<YYYYMMDD>/<id>.json
type Archiver struct {
	store  Storage
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// NewArchiver creates an archiver on top of a storage backend
func NewArchiver(store Storage, logger ...*zap.Logger) *Archiver {
	l := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	return &Archiver{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: l,
	}
}

// strategyDir turns a strategy label into a single path segment
func strategyDir(strategy string) string {
	if strategy == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, strategy)
}

// Save archives a completed result and returns where it was written
func (a *Archiver) Save(ctx context.Context, res *backtest.Result) (Record, error) {
	if res == nil {
		return Record{}, core.Errorf(core.ErrConfigInvalid, "nothing to archive")
	}

	saved := a.now()
	id := a.newID()
	rec := Record{
		ID:       id,
		Path:     path.Join(runsRoot, strategyDir(res.Strategy), saved.Format("20060102"), id+".json"),
		Strategy: res.Strategy,
		SavedAt:  saved,
	}

	data, err := json.MarshalIndent(envelope{Record: rec, Result: res}, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("encoding result: %w", err)
	}
	if err := a.store.Write(ctx, rec.Path, data); err != nil {
		return Record{}, fmt.Errorf("writing %s: %w", rec.Path, err)
	}

	a.logger.Info("run archived",
		zap.String("id", rec.ID),
		zap.String("strategy", rec.Strategy),
		zap.String("path", rec.Path),
		zap.Int("bytes", len(data)),
	)
	return rec, nil
}

// Load reads an archived run back
func (a *Archiver) Load(ctx context.Context, p string) (Record, *backtest.Result, error) {
	data, err := a.store.Read(ctx, p)
	if err != nil {
		return Record{}, nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Record{}, nil, fmt.Errorf("decoding %s: %w", p, err)
	}
	if env.Result == nil {
		return Record{}, nil, core.Errorf(core.ErrNoData, "%s holds no result", p)
	}
	return env.Record, env.Result, nil
}

// List returns the archived paths of one strategy, or of every strategy when
// strategy is empty
func (a *Archiver) List(ctx context.Context, strategy string) ([]string, error) {
	prefix := runsRoot
	if strategy != "" {
		prefix = path.Join(runsRoot, strategyDir(strategy))
	}
	return a.store.List(ctx, prefix)
}
