package netstatus

import (
	"context"
	"sync"

	"github.com/apex/log"
)

type Monitor struct {
	provider Provider
}

func NewMonitor(p Provider) *Monitor {
	return &Monitor{provider: p}
}

// IsOnline never fails: a provider error counts as offline.
func (m *Monitor) IsOnline(ctx context.Context) bool {
	s, err := m.provider.Fetch(ctx)
	if err != nil {
		log.Warnf("netstatus: provider error, assuming offline: %v", err)
		return false
	}
	return s.Online()
}

// Subscribe calls onOnline / onOffline when the provider reports a state
// whose online-ness differs from the last one this subscriber saw. The
// first report is always delivered. Either callback may be nil.
func (m *Monitor) Subscribe(onOnline, onOffline func()) (unsubscribe func()) {
	var (
		mu   sync.Mutex
		seen bool
		last bool
	)
	return m.provider.Subscribe(func(s State) {
		online := s.Online()
		mu.Lock()
		if seen && last == online {
			mu.Unlock()
			return
		}
		seen, last = true, online
		mu.Unlock()

		if online && onOnline != nil {
			onOnline()
		}
		if !online && onOffline != nil {
			onOffline()
		}
	})
}

// Watch streams transitions until ctx is done; the channel is then
// closed. Slow readers see only the latest value.
func (m *Monitor) Watch(ctx context.Context) <-chan bool {
	out := make(chan bool, 1)
	push := func(v bool) {
		for {
			select {
			case out <- v:
				return
			default:
			}
			select {
			case <-out:
			default:
			}
		}
	}

	var mu sync.Mutex
	closed := false
	send := func(v bool) {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			push(v)
		}
	}
	unsubscribe := m.Subscribe(func() { send(true) }, func() { send(false) })

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out
}
