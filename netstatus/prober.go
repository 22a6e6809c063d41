package netstatus

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/apex/log"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// HTTPProber derives connectivity from the reporting backend itself:
// a TCP dial to the backend host decides Connected and a GET on the
// health URL decides InternetReachable.
type HTTPProber struct {
	healthURL string
	hostport  string
	interval  time.Duration
	client    *http.Client
	dialer    net.Dialer

	mu        sync.Mutex
	last      *State
	listeners listeners

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewHTTPProber(healthURL string, interval time.Duration) (*HTTPProber, error) {
	u, err := url.Parse(healthURL)
	if err != nil {
		return nil, fmt.Errorf("parse health url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("health url %q has no host", healthURL)
	}
	hostport := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		hostport = net.JoinHostPort(u.Hostname(), port)
	}
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &HTTPProber{
		healthURL: healthURL,
		hostport:  hostport,
		interval:  interval,
		client:    &http.Client{Timeout: defaultProbeTimeout},
		dialer:    net.Dialer{Timeout: defaultProbeTimeout},
		done:      make(chan struct{}),
	}, nil
}

func (p *HTTPProber) Fetch(ctx context.Context) (State, error) {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.hostport)
	if err != nil {
		return State{Connected: false, InternetReachable: Reachable(false)}, nil
	}
	conn.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return State{}, fmt.Errorf("new health request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return State{Connected: true, InternetReachable: Reachable(false)}, nil
	}
	resp.Body.Close()
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	return State{Connected: true, InternetReachable: Reachable(ok)}, nil
}

func (p *HTTPProber) Subscribe(fn func(State)) func() {
	return p.listeners.add(fn)
}

// Start polls until Stop and notifies subscribers whenever the polled
// state differs from the previous poll.
func (p *HTTPProber) Start() {
	p.wg.Add(1)
	go p.pollLoop()
	log.Infof("netstatus: probing %s every %v", p.healthURL, p.interval)
}

// Stop is safe to call more than once.
func (p *HTTPProber) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		log.Info("netstatus: prober stopped")
	})
}

func (p *HTTPProber) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *HTTPProber) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*defaultProbeTimeout)
	defer cancel()
	s, err := p.Fetch(ctx)
	if err != nil {
		log.Warnf("netstatus: probe failed: %v", err)
		s = State{}
	}

	p.mu.Lock()
	changed := p.last == nil || p.last.Online() != s.Online() || p.last.Connected != s.Connected
	p.last = &s
	p.mu.Unlock()

	if changed {
		p.listeners.notify(s)
	}
}
