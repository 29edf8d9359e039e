package strategy

import (
	"errors"
	"testing"

	"github.com/newthinker/quantsim/internal/core"
)

func TestBind(t *testing.T) {
	var (
		period int
		level  float64
		mode   string
	)
	err := Bind("test", map[string]any{"period": 14.0, "level": "30.5", "mode": "fast"},
		Param{Key: "period", Target: &period},
		Param{Key: "level", Target: &level},
		Param{Key: "mode", Target: &mode},
	)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if period != 14 || level != 30.5 || mode != "fast" {
		t.Errorf("bound %d/%v/%q", period, level, mode)
	}
}

func TestBind_Rejects(t *testing.T) {
	var period int
	tests := []map[string]any{
		{"unknown": 1},
		{"period": "soon"},
	}
	for _, params := range tests {
		err := Bind("test", params, Param{Key: "period", Target: &period})
		if !errors.Is(err, core.ErrConfigInvalid) {
			t.Errorf("Bind(%v) = %v, want CONFIG_INVALID", params, err)
		}
	}

	var flag bool
	if err := Bind("test", map[string]any{"flag": true}, Param{Key: "flag", Target: &flag}); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("unsupported target accepted: %v", err)
	}
}

func TestBind_KeepsDefaults(t *testing.T) {
	period := 20
	if err := Bind("test", nil, Param{Key: "period", Target: &period}); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if period != 20 {
		t.Errorf("default overwritten: %d", period)
	}
}
