package csvfile

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/quantsim/internal/collector"
	"github.com/newthinker/quantsim/internal/core"
)

func TestCSV_ImplementsProvider(t *testing.T) {
	var _ collector.Provider = (*CSV)(nil)
}

func TestCSV_FetchHistory(t *testing.T) {
	dir := t.TempDir()
	data := "Date,Open,High,Low,Close,Adj Close,Volume\n" +
		"2024-01-03,101,103,100,102,102,1500\n" +
		"2024-01-02,100,102,99,101,101,1200.0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(data), 0o644))

	bars, err := New(dir).FetchHistory(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "AAPL", bars[1].Symbol)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), bars[1].Time)
	assert.Equal(t, 101.0, bars[1].Close)
	assert.Equal(t, int64(1200), bars[1].Volume)

	sorted, err := collector.Normalize("AAPL", bars, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, sorted[0].Time.Before(sorted[1].Time))
}

func TestCSV_Formats(t *testing.T) {
	data := "timestamp,open,high,low,close,volume\n" +
		"2024-01-02 09:30:00,1,2,0.5,1.5,10\n" +
		"1/3/2024,1,2,0.5,1.5,10\n"
	bars, err := New("").Read(context.Background(), "X", strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), bars[1].Time)
}

func TestCSV_Errors(t *testing.T) {
	ctx := context.Background()
	c := New(t.TempDir())

	_, err := c.FetchHistory(ctx, "MISSING", time.Time{}, time.Time{})
	assert.True(t, errors.Is(err, core.ErrNoData), "got %v", err)

	tests := []struct {
		name string
		data string
		want error
	}{
		{"empty", "", core.ErrNoData},
		{"missing column", "date,open,high,low\n2024-01-02,1,2,0.5\n", core.ErrInvalidBar},
		{"bad price", "date,open,high,low,close,volume\n2024-01-02,x,2,0.5,1,10\n", core.ErrInvalidBar},
		{"bad date", "date,open,high,low,close,volume\nyesterday,1,2,0.5,1,10\n", core.ErrInvalidBar},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Read(ctx, "X", strings.NewReader(tt.data))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	bars := []core.Bar{{
		Symbol: "AAPL",
		Time:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Open:   100.5,
		High:   102,
		Low:    99.25,
		Close:  101,
		Volume: 1200,
	}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, bars))

	got, err := New("").Read(context.Background(), "AAPL", &buf)
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}
