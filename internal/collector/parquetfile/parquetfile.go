// Package parquetfile loads bars from one Parquet file per symbol.
package parquetfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/newthinker/quantsim/internal/core"
)

// BarRecord is the Parquet schema for bar data
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// Parquet reads <dir>/<SYMBOL>.parquet files
type Parquet struct {
	dir string
}

func New(dir string) *Parquet {
	return &Parquet{dir: dir}
}

func (p *Parquet) Name() string {
	return "parquet"
}

// Path returns the file holding symbol's bars
func (p *Parquet) Path(symbol string) string {
	return filepath.Join(p.dir, symbol+".parquet")
}

func (p *Parquet) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.Bar, error) {
	path := p.Path(symbol)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.Errorf(core.ErrNoData, "%s: no file at %s", symbol, path)
		}
		return nil, err
	}

	records, err := parquet.ReadFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bars := make([]core.Bar, 0, len(records))
	for _, r := range records {
		bars = append(bars, fromRecord(symbol, r))
	}
	return bars, nil
}

// WriteBars stores bars for one symbol at Path(symbol), replacing any existing file
func (p *Parquet) WriteBars(symbol string, bars []core.Bar) error {
	path := p.Path(symbol)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = toRecord(b)
	}
	return parquet.WriteFile(path, records)
}

func toRecord(b core.Bar) BarRecord {
	return BarRecord{
		Symbol:    b.Symbol,
		Timestamp: b.Time.UnixMilli(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

func fromRecord(symbol string, r BarRecord) core.Bar {
	if r.Symbol == "" {
		r.Symbol = symbol
	}
	return core.Bar{
		Symbol: r.Symbol,
		Time:   time.UnixMilli(r.Timestamp).UTC(),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}
