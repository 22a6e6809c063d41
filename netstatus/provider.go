// Package netstatus turns a network-status provider into an online /
// offline signal with transition callbacks.
package netstatus

import (
	"context"
	"sync"
)

// State is a provider snapshot. InternetReachable is nil when the
// provider cannot tell.
type State struct {
	Connected         bool  `json:"connected"`
	InternetReachable *bool `json:"internet_reachable,omitempty"`
}

func (s State) Online() bool {
	return s.Connected && (s.InternetReachable == nil || *s.InternetReachable)
}

func Reachable(v bool) *bool {
	return &v
}

type Provider interface {
	Fetch(ctx context.Context) (State, error)
	Subscribe(fn func(State)) (unsubscribe func())
}

// listeners is the subscriber registry shared by the providers.
type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(State)
}

func (l *listeners) add(fn func(State)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(State))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners) notify(s State) {
	l.mu.Lock()
	fns := make([]func(State), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Manual is a provider whose state is set by the caller. The agent uses
// it for -force_offline and tests use it to simulate reconnects.
type Manual struct {
	mu        sync.RWMutex
	state     State
	err       error
	listeners listeners
}

func NewManual(initial State) *Manual {
	return &Manual{state: initial}
}

func (m *Manual) Fetch(ctx context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.err
}

func (m *Manual) Subscribe(fn func(State)) func() {
	return m.listeners.add(fn)
}

// Set stores the state and notifies every subscriber synchronously.
func (m *Manual) Set(s State) {
	m.mu.Lock()
	m.state = s
	m.err = nil
	m.mu.Unlock()
	m.listeners.notify(s)
}

// SetError makes Fetch fail until the next Set.
func (m *Manual) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}
