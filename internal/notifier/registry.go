package notifier

import (
	"context"
	"sort"
	"sync"

	"github.com/newthinker/quantsim/internal/core"
)

// Registry manages notifier instances
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// NewRegistry creates a new notifier registry
func NewRegistry() *Registry {
	return &Registry{
		notifiers: make(map[string]Notifier),
	}
}

// Register adds a notifier to the registry
func (r *Registry) Register(n Notifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := n.Name()
	if _, exists := r.notifiers[name]; exists {
		return core.Errorf(core.ErrConfigInvalid, "notifier %s already registered", name)
	}

	r.notifiers[name] = n
	return nil
}

// Get retrieves a notifier by name
func (r *Registry) Get(name string) (Notifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, exists := r.notifiers[name]
	return n, exists
}

// Names returns the registered notifier names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.notifiers))
	for name := range r.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered notifiers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notifiers)
}

// NotifyAll sends reports to every registered notifier. A single report goes
// through Notify, several through NotifyBatch. Failures are returned by
// notifier name.
func (r *Registry) NotifyAll(ctx context.Context, reports ...Report) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	errors := make(map[string]error)
	if len(reports) == 0 {
		return errors
	}
	for name, n := range r.notifiers {
		var err error
		if len(reports) == 1 {
			err = n.Notify(ctx, reports[0])
		} else {
			err = n.NotifyBatch(ctx, reports)
		}
		if err != nil {
			errors[name] = err
		}
	}
	return errors
}
