package chatsync

import (
	"encoding/json"
	"sync"
)

// Listener receives the raw JSON payload of an event.
type Listener func(data json.RawMessage)

type listenerEntry struct {
	id   uint64
	fn   Listener
	once bool
}

// emitter is a named-event listener registry. Listeners run on the emitting
// goroutine, outside the registry lock, so they may add or remove listeners.
type emitter struct {
	mu        sync.Mutex
	next      uint64
	listeners map[string][]listenerEntry
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[string][]listenerEntry)}
}

func (e *emitter) add(event string, fn Listener, once bool) func() {
	e.mu.Lock()
	e.next++
	id := e.next
	e.listeners[event] = append(e.listeners[event], listenerEntry{id: id, fn: fn, once: once})
	e.mu.Unlock()
	return func() { e.remove(event, id) }
}

func (e *emitter) on(event string, fn Listener) func() { return e.add(event, fn, false) }

func (e *emitter) once(event string, fn Listener) func() { return e.add(event, fn, true) }

func (e *emitter) remove(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(event, id)
}

func (e *emitter) emit(event string, data json.RawMessage) {
	e.mu.Lock()
	ls := append([]listenerEntry(nil), e.listeners[event]...)
	for _, l := range ls {
		if l.once {
			e.removeLocked(event, l.id)
		}
	}
	e.mu.Unlock()

	for _, l := range ls {
		if !l.once && !e.has(event, l.id) {
			continue // removed by an earlier listener in this dispatch
		}
		l.fn(data)
	}
}

func (e *emitter) removeLocked(event string, id uint64) {
	ls := e.listeners[event]
	for i, l := range ls {
		if l.id == id {
			e.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(e.listeners[event]) == 0 {
		delete(e.listeners, event)
	}
}

func (e *emitter) has(event string, id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.listeners[event] {
		if l.id == id {
			return true
		}
	}
	return false
}

func (e *emitter) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

func (e *emitter) removeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.listeners)
}
