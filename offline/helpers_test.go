package offline

import (
	"context"
	"errors"
	"sync"

	"roadhazard/api"
	"roadhazard/kvstore"
	"roadhazard/netstatus"
)

// fakeBackend records submissions and answers with fail(args) when set.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	fail    func(args api.ReportArgs) error
	block   chan struct{}
	nearby  []api.CachedReport
	nearErr error
	seq     int
}

func (f *fakeBackend) CreateReport(ctx context.Context, args api.ReportArgs) (*api.ReportResponse, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args.Id)
	if f.fail != nil {
		if err := f.fail(args); err != nil {
			return nil, err
		}
	}
	f.seq++
	return &api.ReportResponse{Seq: f.seq}, nil
}

func (f *fakeBackend) GetNearby(ctx context.Context, args api.NearbyArgs) ([]api.CachedReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nearby, f.nearErr
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) setFail(fn func(api.ReportArgs) error) {
	f.mu.Lock()
	f.fail = fn
	f.mu.Unlock()
}

// quietProvider changes state without telling subscribers until notify
// is called, like a platform that reports reconnects late.
type quietProvider struct {
	mu    sync.Mutex
	state netstatus.State
	fns   []func(netstatus.State)
}

func (p *quietProvider) Fetch(ctx context.Context) (netstatus.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, nil
}

func (p *quietProvider) Subscribe(fn func(netstatus.State)) func() {
	p.mu.Lock()
	p.fns = append(p.fns, fn)
	p.mu.Unlock()
	return func() {}
}

func (p *quietProvider) set(s netstatus.State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *quietProvider) notify() {
	p.mu.Lock()
	s := p.state
	fns := append([]func(netstatus.State){}, p.fns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

var _ netstatus.Provider = (*quietProvider)(nil)

var errStore = errors.New("disk full")

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errStore
}

func (brokenStore) Set(ctx context.Context, key, value string) error {
	return errStore
}

func (brokenStore) Remove(ctx context.Context, key string) error {
	return errStore
}

var _ kvstore.Store = brokenStore{}

func report(id string, savedAt int64) PendingReport {
	return PendingReport{
		ID:        id,
		Type:      api.HazardPothole,
		Severity:  api.SeverityMedium,
		Address:   "Main St",
		Notes:     "",
		Timestamp: "2024-05-01T10:00:00Z",
		SavedAt:   savedAt,
	}
}

func queuedReport(q *Queue, id string, createdAt int64) SyncQueueItem {
	item, err := NewCreateReportItem(report(id, createdAt), q.maxRetries)
	if err != nil {
		panic(err)
	}
	return item
}
