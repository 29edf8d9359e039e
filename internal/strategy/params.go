package strategy

import (
	"sort"

	"github.com/spf13/cast"

	"github.com/newthinker/quantsim/internal/core"
)

// Param binds one named parameter to the field it configures
type Param struct {
	Key    string
	Target any // *int, *float64 or *string
}

// Bind decodes params into targets. Unknown keys and values that cannot be
// converted are rejected with CONFIG_INVALID.
func Bind(strategy string, params map[string]any, targets ...Param) error {
	known := make(map[string]any, len(targets))
	for _, p := range targets {
		known[p.Key] = p.Target
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		target, ok := known[key]
		if !ok {
			return core.Errorf(core.ErrConfigInvalid, "%s: unknown parameter %q", strategy, key)
		}

		raw := params[key]
		var err error
		switch t := target.(type) {
		case *int:
			*t, err = cast.ToIntE(raw)
		case *float64:
			*t, err = cast.ToFloat64E(raw)
		case *string:
			*t, err = cast.ToStringE(raw)
		default:
			return core.Errorf(core.ErrConfigInvalid, "%s: parameter %q has unsupported target %T", strategy, key, target)
		}
		if err != nil {
			return core.Errorf(core.ErrConfigInvalid, "%s: parameter %q: %v", strategy, key, err)
		}
	}
	return nil
}

// Positive rejects non-positive integer parameters
func Positive(strategy, name string, v int) error {
	if v <= 0 {
		return core.Errorf(core.ErrConfigInvalid, "%s: %s must be positive, got %d", strategy, name, v)
	}
	return nil
}
