package action

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/voicebridge/bridged/internal/model"
)

// Invocation carries the positional argument set every handler accepts.
// Semantics of each field are action-specific.
type Invocation struct {
	Target  string
	Payload string
	Extra   string
}

// Handler is one leaf action behind a registry name.
type Handler func(ctx context.Context, inv Invocation) model.Result

// Registry maps stable action names to handlers. It is populated once at
// startup and read-only afterwards; the lock only guards late test wiring.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(name string, h Handler) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Alias registers a second name for an already-registered action.
func (r *Registry) Alias(alias, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handlers[strings.ToLower(strings.TrimSpace(name))]; ok {
		r.handlers[strings.ToLower(strings.TrimSpace(alias))] = h
	}
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered action surface, sorted, for unknown-action
// error messages and the list_actions action.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// dangerousActions are flagged for audit logging; flagging never blocks
// execution.
var dangerousActions = map[string]struct{}{
	"shutdown":      {},
	"restart":       {},
	"logoff":        {},
	"delete_file":   {},
	"delete_folder": {},
	"format":        {},
	"kill_process":  {},
}

func Dangerous(name string) bool {
	_, ok := dangerousActions[name]
	return ok
}
