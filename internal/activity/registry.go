package activity

import (
	"fmt"
	"sort"
	"sync"

	"cryptra/internal/model"
)

// Registry manages activity registration and lookup by kind or command.
type Registry struct {
	mu         sync.RWMutex
	activities map[model.ActivityKind]Activity
	commands   map[string]model.ActivityKind
}

// NewRegistry creates a new activity registry.
func NewRegistry() *Registry {
	return &Registry{
		activities: make(map[model.ActivityKind]Activity),
		commands:   make(map[string]model.ActivityKind),
	}
}

// Register adds an activity. An activity with the same kind is replaced.
func (r *Registry) Register(a Activity) error {
	if a == nil {
		return fmt.Errorf("cannot register nil activity")
	}
	if !a.Kind().Valid() {
		return fmt.Errorf("unknown activity kind %q", a.Kind())
	}
	if a.Command() == "" {
		return fmt.Errorf("activity command cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.activities[a.Kind()]; ok {
		delete(r.commands, old.Command())
	}
	r.activities[a.Kind()] = a
	r.commands[a.Command()] = a.Kind()
	return nil
}

// Get retrieves an activity by kind.
func (r *Registry) Get(kind model.ActivityKind) (Activity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.activities[kind]
	return a, ok
}

// ByCommand retrieves an activity by its bot command.
func (r *Registry) ByCommand(command string) (Activity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kind, ok := r.commands[command]
	if !ok {
		return nil, false
	}
	return r.activities[kind], true
}

// List returns all registered activities ordered by kind.
func (r *Registry) List() []Activity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Activity, 0, len(r.activities))
	for _, a := range r.activities {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind() < out[j].Kind() })
	return out
}

// Commands returns all registered commands, sorted.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.commands))
	for cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered activities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activities)
}
