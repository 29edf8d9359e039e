package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/newthinker/quantsim/internal/core"
)

func TestPrintSignals(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	var out bytes.Buffer

	printSignals(&out, "fast", []core.SignalEvent{
		{Symbol: "AAPL", Time: day, Direction: core.DirectionBuy, Reason: "golden cross"},
		{Symbol: "MSFT", Time: day.AddDate(0, 0, 1), Direction: core.DirectionSell},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, "=== fast: 2 signals ===", lines[0])
	assert.Contains(t, lines[1], "DIRECTION")
	assert.Contains(t, lines[2], "2024-01-02 00:00:00")
	assert.Contains(t, lines[2], "golden cross")
	assert.Contains(t, lines[3], "SELL")
}

func TestPrintSignals_Empty(t *testing.T) {
	var out bytes.Buffer
	printSignals(&out, "slow", nil)
	assert.Equal(t, "slow generated no signals\n", out.String())
}
