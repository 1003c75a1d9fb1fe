package session

import (
	"sync"

	"go.uber.org/zap"
)

// Registry is a typed observer list. Subscriptions are keyed by a generated
// identifier so removing one never disturbs a duplicate of the same function,
// and a remove func may be called more than once safely.
type Registry[T any] struct {
	mu     sync.Mutex
	nextID int64
	subs   map[int64]func(T)
	logger *zap.Logger
}

// NewRegistry constructs an empty registry logging callback panics to logger.
func NewRegistry[T any](logger *zap.Logger) *Registry[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry[T]{subs: make(map[int64]func(T)), logger: logger}
}

// Add registers a callback and returns its remove func.
func (r *Registry[T]) Add(callback func(T)) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[id] = callback
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Notify invokes every registered callback with value. Each invocation is
// isolated: a panicking callback is logged and must not stop the others.
func (r *Registry[T]) Notify(value T) {
	r.mu.Lock()
	callbacks := make([]func(T), 0, len(r.subs))
	for _, callback := range r.subs {
		callbacks = append(callbacks, callback)
	}
	r.mu.Unlock()

	for _, callback := range callbacks {
		r.invoke(callback, value)
	}
}

func (r *Registry[T]) invoke(callback func(T), value T) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("session callback panicked", zap.Any("panic", recovered))
		}
	}()
	callback(value)
}

// Clear removes every registered callback.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	r.subs = make(map[int64]func(T))
	r.mu.Unlock()
}

// Len reports the number of registered callbacks.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
