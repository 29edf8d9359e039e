// Package csvfile loads bars from one CSV file per symbol.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/newthinker/quantsim/internal/core"
)

// columns accepted for each field, matched case-insensitively
var aliases = map[string][]string{
	"time":   {"date", "time", "timestamp", "datetime"},
	"open":   {"open"},
	"high":   {"high"},
	"low":    {"low"},
	"close":  {"close"},
	"volume": {"volume", "vol"},
}

// CSV reads <dir>/<SYMBOL>.csv files with a header row
type CSV struct {
	dir string
	loc *time.Location
}

// New creates a CSV provider rooted at dir. Timestamps without a zone are
// read as UTC.
func New(dir string) *CSV {
	return &CSV{dir: dir, loc: time.UTC}
}

func (c *CSV) Name() string {
	return "csv"
}

// Path returns the file holding symbol's bars
func (c *CSV) Path(symbol string) string {
	return filepath.Join(c.dir, symbol+".csv")
}

// FetchHistory reads every bar in the symbol's file; filtering to the
// requested range happens in collector.Normalize.
func (c *CSV) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.Bar, error) {
	f, err := os.Open(c.Path(symbol))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.Errorf(core.ErrNoData, "%s: no file at %s", symbol, c.Path(symbol))
		}
		return nil, fmt.Errorf("opening %s: %w", c.Path(symbol), err)
	}
	defer f.Close()

	return c.Read(ctx, symbol, f)
}

// Read parses CSV rows from r
func (c *CSV) Read(ctx context.Context, symbol string, r io.Reader) ([]core.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, core.Errorf(core.ErrNoData, "%s: empty file", symbol)
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, core.WrapError(core.ErrInvalidBar, err)
	}

	var bars []core.Bar
	for line := 2; ; line++ {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}

		b, err := c.parseRow(symbol, row, idx)
		if err != nil {
			return nil, core.Errorf(core.ErrInvalidBar, "%s line %d: %v", symbol, line, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(aliases))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		for field, names := range aliases {
			for _, alias := range names {
				if name == alias {
					if _, dup := idx[field]; !dup {
						idx[field] = i
					}
				}
			}
		}
	}
	for _, required := range []string{"time", "open", "high", "low", "close", "volume"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("missing %s column in header %v", required, header)
		}
	}
	return idx, nil
}

func (c *CSV) parseRow(symbol string, row []string, idx map[string]int) (core.Bar, error) {
	field := func(name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	ts, err := dateparse.ParseIn(field("time"), c.loc)
	if err != nil {
		return core.Bar{}, fmt.Errorf("time %q: %w", field("time"), err)
	}

	b := core.Bar{Symbol: symbol, Time: ts.UTC()}
	prices := []struct {
		name string
		dst  *float64
	}{
		{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close},
	}
	for _, p := range prices {
		v, err := strconv.ParseFloat(field(p.name), 64)
		if err != nil {
			return core.Bar{}, fmt.Errorf("%s %q: %w", p.name, field(p.name), err)
		}
		*p.dst = v
	}

	v, err := strconv.ParseFloat(field("volume"), 64)
	if err != nil {
		return core.Bar{}, fmt.Errorf("volume %q: %w", field("volume"), err)
	}
	b.Volume = int64(v)
	return b, nil
}

// Write stores bars as a CSV file with a date,open,high,low,close,volume header
func Write(w io.Writer, bars []core.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		row := []string{
			b.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatInt(b.Volume, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
