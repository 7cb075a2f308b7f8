package app

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/guts-org/guts-node/txn"
)

// Handler is the function signature every transaction variant implements.
type Handler func(ctx *Context, payload json.RawMessage) error

// HandlerRegistry maps txn.Types to Handlers. Thread-safe for concurrent
// registration, though in practice every handler registers once from an
// init() function before the application is constructed.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[txn.Type]Handler
}

// NewHandlerRegistry creates an empty HandlerRegistry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[txn.Type]Handler)}
}

// Register associates typ with h. Panics on duplicate registration — a
// programmer error caught at init time, never at runtime.
func (r *HandlerRegistry) Register(typ txn.Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		panic(fmt.Sprintf("app: handler already registered for Type %q", typ))
	}
	r.handlers[typ] = h
}

// Execute dispatches payload to the handler registered for typ.
func (r *HandlerRegistry) Execute(typ txn.Type, ctx *Context, payload json.RawMessage) error {
	r.mu.RLock()
	h, ok := r.handlers[typ]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("app: no handler registered for Type %q", typ)
	}
	return h(ctx, payload)
}

// globalHandlers is the package-level singleton that variant handler files
// in this package register into via init().
var globalHandlers = NewHandlerRegistry()

// register adds a handler to the package's global registry.
func register(typ txn.Type, h Handler) {
	globalHandlers.Register(typ, h)
}
