package realtime

import (
	"errors"
	"fmt"
	"sync"
)

// Handler receives an event payload. A returned error is reported back to the emitter.
type Handler[T any] func(payload T) error

// Emitter is a named-event bus. Handlers run synchronously on the emitting
// goroutine, in registration order, and receive the payload as emitted.
type Emitter[T any] struct {
	mu       sync.RWMutex
	handlers map[string][]Handler[T]
}

// NewEmitter creates an emitter with no listeners.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{handlers: make(map[string][]Handler[T])}
}

// On registers h for name.
func (e *Emitter[T]) On(name string, h Handler[T]) {
	e.mu.Lock()
	e.handlers[name] = append(e.handlers[name], h)
	e.mu.Unlock()
}

// AddListener is an alias of On.
func (e *Emitter[T]) AddListener(name string, h Handler[T]) {
	e.On(name, h)
}

// Emit invokes every handler registered for name. All handlers run even when
// one fails; their errors are joined. Emitting to a name without listeners
// is not an error.
func (e *Emitter[T]) Emit(name string, payload T) error {
	e.mu.RLock()
	hs := e.handlers[name]
	e.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := h(payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ListenerCount reports how many handlers are registered for name.
func (e *Emitter[T]) ListenerCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[name])
}
