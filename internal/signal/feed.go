// Package signal replays precomputed strategy decisions in time order.
package signal

import (
	"sort"
	"time"

	"github.com/newthinker/quantsim/internal/core"
)

// Feed is a replayable, time-ordered stream of signal events.
// It is not safe for concurrent use; each run owns its own Feed.
type Feed struct {
	events   []core.SignalEvent
	cursor   int
	lastTime time.Time
}

// NewFeed creates a feed over events that must already be in non-decreasing time order.
// The slice is copied so later changes by the caller are not observed.
func NewFeed(events []core.SignalEvent) (*Feed, error) {
	f := &Feed{events: make([]core.SignalEvent, 0, len(events))}
	for _, ev := range events {
		if err := f.Append(ev); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Merge validates per-symbol streams and merges them into one time-ordered sequence.
// Events sharing a timestamp keep symbol order, then stream order.
func Merge(streams map[string][]core.SignalEvent) ([]core.SignalEvent, error) {
	symbols := make([]string, 0, len(streams))
	for symbol := range streams {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var merged []core.SignalEvent
	for _, symbol := range symbols {
		stream := streams[symbol]
		for i, ev := range stream {
			if ev.Symbol == "" {
				ev.Symbol = symbol
			}
			if ev.Symbol != symbol {
				return nil, core.Errorf(core.ErrOutOfOrderSignal,
					"stream %s contains event for %s", symbol, ev.Symbol)
			}
			if i > 0 && ev.Time.Before(stream[i-1].Time) {
				return nil, core.Errorf(core.ErrOutOfOrderSignal,
					"%s event at %s follows %s", symbol,
					ev.Time.Format(time.RFC3339), stream[i-1].Time.Format(time.RFC3339))
			}
			merged = append(merged, ev)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Time.Before(merged[j].Time)
	})
	return merged, nil
}

// NextDue returns, in time order, every event with Time <= asOf not yet returned.
func (f *Feed) NextDue(asOf time.Time) []core.SignalEvent {
	start := f.cursor
	for f.cursor < len(f.events) && !f.events[f.cursor].Time.After(asOf) {
		f.cursor++
	}
	if f.cursor == start {
		return nil
	}

	f.lastTime = f.events[f.cursor-1].Time
	due := make([]core.SignalEvent, f.cursor-start)
	copy(due, f.events[start:f.cursor])
	return due
}

// Append supplies a new event to the end of the stream. Events earlier than
// the last returned or queued event violate causality and are rejected.
func (f *Feed) Append(ev core.SignalEvent) error {
	if ev.Time.Before(f.lastTime) {
		return core.Errorf(core.ErrOutOfOrderSignal,
			"%s event at %s is earlier than already returned %s", ev.Symbol,
			ev.Time.Format(time.RFC3339), f.lastTime.Format(time.RFC3339))
	}
	if n := len(f.events); n > 0 && ev.Time.Before(f.events[n-1].Time) {
		return core.Errorf(core.ErrOutOfOrderSignal,
			"%s event at %s is earlier than queued %s", ev.Symbol,
			ev.Time.Format(time.RFC3339), f.events[n-1].Time.Format(time.RFC3339))
	}
	f.events = append(f.events, ev)
	return nil
}

// Reset rewinds the cursor to the start of the stream.
func (f *Feed) Reset() {
	f.cursor = 0
	f.lastTime = time.Time{}
}

// Remaining returns how many events have not been returned yet.
func (f *Feed) Remaining() int {
	return len(f.events) - f.cursor
}

// Len returns the total number of events in the stream.
func (f *Feed) Len() int {
	return len(f.events)
}
