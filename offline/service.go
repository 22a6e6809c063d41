package offline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apex/log"

	"roadhazard/api"
	"roadhazard/kvstore"
	"roadhazard/metrics"
	"roadhazard/netstatus"
)

const DefaultSyncInterval = 120 * time.Second

// Client is the part of the reporting API the offline service needs.
type Client interface {
	Reporter
	GetNearby(ctx context.Context, args api.NearbyArgs) ([]api.CachedReport, error)
}

type ServiceConfig struct {
	Store        kvstore.Store
	Monitor      *netstatus.Monitor
	Client       Client
	SyncInterval time.Duration
	MaxRetries   int
	CacheMaxAge  time.Duration
}

type Status struct {
	Online       bool `json:"online"`
	PendingCount int  `json:"pending_count"`
}

// Submission is the outcome of SubmitReport: either accepted by the
// backend (Seq set) or queued for later.
type Submission struct {
	ID     string
	Queued bool
	Seq    int
}

type NearbyResult struct {
	Reports []api.CachedReport
	Live    bool
	Stale   bool
}

// Service owns the offline subsystem: it tracks connectivity, keeps the
// pending count, and drains the queue on reconnect and on a timer.
type Service struct {
	queue   *Queue
	reports *Reports
	cache   *RegionCache
	syncer  *Syncer
	monitor *netstatus.Monitor
	client  Client

	interval    time.Duration
	cacheMaxAge time.Duration
	now         func() time.Time

	mu        sync.RWMutex
	status    Status
	observers map[int]func(Status)
	nextObs   int

	lifeMu      sync.Mutex
	started     bool
	cancel      context.CancelFunc
	unsubscribe func()

	bgMu     sync.Mutex
	stopping bool
	bgCtx    context.Context
	wg       sync.WaitGroup
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = DefaultCacheMaxAge
	}
	queue := NewQueue(cfg.Store, cfg.MaxRetries)
	cache := NewRegionCache(cfg.Store)
	return &Service{
		queue:       queue,
		reports:     NewReports(queue, cfg.Store),
		cache:       cache,
		syncer:      NewSyncer(queue, cache, cfg.Client),
		monitor:     cfg.Monitor,
		client:      cfg.Client,
		interval:    cfg.SyncInterval,
		cacheMaxAge: cfg.CacheMaxAge,
		now:         time.Now,
		observers:   map[int]func(Status){},
	}
}

func (s *Service) Queue() *Queue     { return s.queue }
func (s *Service) Reports() *Reports { return s.reports }
func (s *Service) Syncer() *Syncer   { return s.syncer }

// Start migrates legacy data, probes connectivity, and starts the
// background sync triggers. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.started {
		return nil
	}

	if _, err := s.reports.MigrateLegacy(ctx); err != nil {
		log.Errorf("Legacy pending report migration failed: %v", err)
	}
	online := s.monitor.IsOnline(ctx)
	s.setOnline(online)
	if err := s.RefreshPendingCount(ctx); err != nil {
		log.Errorf("Failed to compute pending count: %v", err)
	}

	bg, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = true
	s.bgMu.Lock()
	s.stopping = false
	s.bgCtx = bg
	s.bgMu.Unlock()

	s.unsubscribe = s.monitor.Subscribe(
		// Online may already be set by a submit or a tick; sync anyway.
		func() {
			s.setOnline(true)
			log.Info("Connection restored, syncing queued reports")
			s.goSync(bg, "reconnect")
		},
		func() {
			if s.IsOnline() {
				log.Info("Connection lost, new reports will be queued")
			}
			s.setOnline(false)
		},
	)

	s.spawn(func() { s.tick(bg) })
	if online {
		s.goSync(bg, "startup")
	}
	log.Infof("Offline service started, online=%t, sync every %s", online, s.interval)
	return nil
}

// Stop detaches from the monitor, stops the ticker and waits for any
// running background sync. Safe to call more than once.
func (s *Service) Stop() {
	s.lifeMu.Lock()
	if !s.started {
		s.lifeMu.Unlock()
		return
	}
	s.started = false
	s.unsubscribe()
	s.cancel()
	s.bgMu.Lock()
	s.stopping = true
	s.bgCtx = nil
	s.bgMu.Unlock()

	s.wg.Wait()
	s.lifeMu.Unlock()
	log.Info("Offline service stopped")
}

// spawn runs fn in a tracked goroutine unless the service is stopping.
func (s *Service) spawn(fn func()) {
	s.bgMu.Lock()
	if s.stopping {
		s.bgMu.Unlock()
		return
	}
	s.wg.Add(1)
	s.bgMu.Unlock()
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Service) tick(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			online := s.monitor.IsOnline(ctx)
			s.setOnline(online)
			if online {
				s.backgroundSync(ctx, "timer")
			}
		}
	}
}

func (s *Service) goSync(ctx context.Context, reason string) {
	s.spawn(func() { s.backgroundSync(ctx, reason) })
}

// kick starts a background sync if the service is running.
func (s *Service) kick(reason string) {
	s.bgMu.Lock()
	ctx := s.bgCtx
	running := !s.stopping && ctx != nil
	s.bgMu.Unlock()
	if running {
		s.goSync(ctx, reason)
	}
}

// backgroundSync never propagates failures; they are logged.
func (s *Service) backgroundSync(ctx context.Context, reason string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Background sync (%s) panicked: %v", reason, r)
		}
	}()
	n, err := s.SyncNow(ctx)
	switch {
	case errors.Is(err, ErrOffline), errors.Is(err, context.Canceled):
		log.Debugf("Background sync (%s) skipped: %v", reason, err)
	case err != nil:
		log.Errorf("Background sync (%s) failed: %v", reason, err)
	case n > 0:
		log.Infof("Background sync (%s) submitted %d queued reports", reason, n)
	}
}

// SyncNow drains the queue once and refreshes the pending count. It
// returns ErrOffline without touching the queue when the backend is not
// reachable, so no retry budget is spent.
func (s *Service) SyncNow(ctx context.Context) (int, error) {
	online := s.monitor.IsOnline(ctx)
	s.setOnline(online)
	if !online {
		return 0, ErrOffline
	}
	n, err := s.syncer.ProcessSyncQueue(ctx)
	if rerr := s.RefreshPendingCount(context.WithoutCancel(ctx)); rerr != nil {
		log.Errorf("Failed to refresh pending count: %v", rerr)
	}
	return n, err
}

// RefreshPendingCount recomputes the pending count. On failure the last
// known value is kept.
func (s *Service) RefreshPendingCount(ctx context.Context) error {
	n, err := s.queue.Count(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	changed := s.status.PendingCount != n
	s.status.PendingCount = n
	st := s.status
	s.mu.Unlock()

	metrics.PendingItems.Set(float64(n))
	if changed {
		s.publish(st)
	}
	return nil
}

func (s *Service) setOnline(online bool) {
	s.mu.Lock()
	changed := s.status.Online != online
	s.status.Online = online
	st := s.status
	s.mu.Unlock()

	if online {
		metrics.Online.Set(1)
	} else {
		metrics.Online.Set(0)
	}
	if changed {
		s.publish(st)
	}
}

func (s *Service) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Online
}

func (s *Service) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.PendingCount
}

func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Subscribe registers fn for status changes. fn is called synchronously
// and must not block.
func (s *Service) Subscribe(fn func(Status)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Service) publish(st Status) {
	s.mu.RLock()
	fns := make([]func(Status), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(st)
	}
}

// SubmitReport sends report right away when online. If the backend cannot
// be reached the report is queued; a rejection by the backend is returned
// as is and nothing is queued.
func (s *Service) SubmitReport(ctx context.Context, report PendingReport) (Submission, error) {
	if report.ID == "" {
		report.ID = NewReportID()
	}
	if report.Timestamp == "" {
		report.Timestamp = s.now().UTC().Format(time.RFC3339)
	}
	if err := report.Validate(); err != nil {
		return Submission{}, err
	}
	logger := log.WithField("id", report.ID)

	if online := s.monitor.IsOnline(ctx); online {
		s.setOnline(true)
		resp, err := s.client.CreateReport(ctx, report.ReportArgs())
		if err == nil {
			logger.Infof("Report submitted, seq %d", resp.Seq)
			// Older queued reports follow right behind it.
			s.kick("submit")
			return Submission{ID: report.ID, Seq: resp.Seq}, nil
		}
		if !isRetryable(err) {
			return Submission{}, err
		}
		logger.Warnf("Submit failed, queueing for later: %v", err)
	} else {
		s.setOnline(false)
	}

	if err := s.reports.SavePendingReport(ctx, report); err != nil {
		return Submission{}, err
	}
	if err := s.RefreshPendingCount(ctx); err != nil {
		logger.Errorf("Failed to refresh pending count: %v", err)
	}
	return Submission{ID: report.ID, Queued: true}, nil
}

func (s *Service) PendingReports(ctx context.Context) []PendingReport {
	return s.reports.GetPendingReports(ctx)
}

// Nearby fetches live reports for vp when online and refreshes the cache;
// otherwise it answers from the cache, flagged stale when the cached
// region does not cover vp or is too old.
func (s *Service) Nearby(ctx context.Context, vp api.ViewPort) (NearbyResult, error) {
	if s.monitor.IsOnline(ctx) {
		reports, err := s.client.GetNearby(ctx, api.NearbyArgs{VPort: vp})
		if err == nil {
			region := RegionFromViewPort(vp, s.now())
			if cerr := s.cache.Save(ctx, region, reports); cerr != nil {
				log.Errorf("Failed to cache nearby reports: %v", cerr)
			}
			return NearbyResult{Reports: reports, Live: true}, nil
		}
		log.Warnf("Nearby fetch failed, using cache: %v", err)
	}

	cached, err := s.cache.Reports(ctx)
	if err != nil {
		return NearbyResult{}, err
	}
	region, found, err := s.cache.Region(ctx)
	if err != nil {
		return NearbyResult{}, err
	}
	return NearbyResult{
		Reports: FilterReports(cached, vp),
		Stale:   !found || !region.Relevant(vp, s.now(), s.cacheMaxAge),
	}, nil
}

func (s *Service) LastSync(ctx context.Context) (time.Time, bool, error) {
	return s.cache.LastSync(ctx)
}

func (s *Service) FailedItems(ctx context.Context) ([]SyncQueueItem, error) {
	return s.queue.Failed(ctx)
}

func (s *Service) Abandon(ctx context.Context, id string) error {
	if err := s.queue.Abandon(ctx, id); err != nil {
		return err
	}
	return s.RefreshPendingCount(ctx)
}

// RetryFailed resets the retry budget of a failed item; it is picked up by
// the next sync.
func (s *Service) RetryFailed(ctx context.Context, id string) error {
	if err := s.queue.Retry(ctx, id); err != nil {
		return err
	}
	return s.RefreshPendingCount(ctx)
}
