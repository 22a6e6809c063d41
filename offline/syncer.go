package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/singleflight"

	"roadhazard/api"
	"roadhazard/metrics"
	"roadhazard/reporting"
)

// Reporter submits a report to the backend. *reporting.Client implements it.
type Reporter interface {
	CreateReport(ctx context.Context, args api.ReportArgs) (*api.ReportResponse, error)
}

// Handler performs one queued mutation against the backend.
type Handler func(ctx context.Context, item SyncQueueItem) error

type Syncer struct {
	queue    *Queue
	cache    *RegionCache
	handlers map[MutationType]Handler
	now      func() time.Time

	group  singleflight.Group
	passMu sync.Mutex
}

func NewSyncer(queue *Queue, cache *RegionCache, reporter Reporter) *Syncer {
	s := &Syncer{
		queue:    queue,
		cache:    cache,
		handlers: map[MutationType]Handler{},
		now:      time.Now,
	}
	s.Handle(MutationCreateReport, createReportHandler(reporter))
	return s
}

// Handle registers h for mutations of type t. Not safe to call while a
// sync pass is running.
func (s *Syncer) Handle(t MutationType, h Handler) {
	s.handlers[t] = h
}

func createReportHandler(reporter Reporter) Handler {
	return func(ctx context.Context, item SyncQueueItem) error {
		report, err := item.Report()
		if err != nil {
			return &permanentError{err: err}
		}
		args := report.ReportArgs()
		if item.PhotoURI != "" {
			args.PhotoURI = item.PhotoURI
		}
		resp, err := reporter.CreateReport(ctx, args)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"id": item.ID, "seq": resp.Seq}).Info("Report synced")
		return nil
	}
}

func isRetryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	return reporting.IsRetryable(err)
}

// ProcessSyncQueue submits every queued mutation with retry budget left,
// oldest first, and returns how many the backend confirmed. A call made
// while a pass is running waits for that pass and shares its result.
func (s *Syncer) ProcessSyncQueue(ctx context.Context) (int, error) {
	v, err, _ := s.group.Do("sync", func() (interface{}, error) {
		s.passMu.Lock()
		defer s.passMu.Unlock()
		return s.process(ctx)
	})
	n, _ := v.(int)
	return n, err
}

func (s *Syncer) process(ctx context.Context) (int, error) {
	start := s.now()
	defer func() {
		metrics.SyncPassDurationSeconds.Observe(s.now().Sub(start).Seconds())
	}()

	items, err := s.queue.Items(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			s.recordPass(ctx, synced)
			return synced, err
		}
		if item.Exhausted() {
			continue
		}
		if s.attempt(ctx, item) {
			synced++
		}
	}
	s.recordPass(ctx, synced)
	return synced, nil
}

// attempt submits one item and records the outcome in the queue.
func (s *Syncer) attempt(ctx context.Context, item SyncQueueItem) bool {
	logger := log.WithFields(log.Fields{"id": item.ID, "type": item.Type})

	var err error
	if h, ok := s.handlers[item.Type]; ok {
		err = h(ctx, item)
	} else {
		err = &permanentError{err: fmt.Errorf("no handler for mutation type %q", item.Type)}
	}

	// Record the outcome even if ctx was cancelled during the call.
	wctx := context.WithoutCancel(ctx)
	if err == nil {
		metrics.SyncedTotal.Inc()
		if _, rerr := s.queue.Remove(wctx, item.ID); rerr != nil {
			// The backend deduplicates by id, so a resubmission is harmless.
			logger.Errorf("Synced but failed to dequeue: %v", rerr)
		}
		return true
	}

	if ctx.Err() != nil {
		// Interrupted, not failed: keep the budget.
		logger.Warnf("Sync interrupted: %v", err)
		return false
	}

	ts := s.now().UnixMilli()
	item.LastAttempt = &ts
	item.LastError = err.Error()
	if isRetryable(err) {
		item.RetryCount++
		metrics.AttemptFailuresTotal.WithLabelValues("retry").Inc()
		logger.Warnf("Sync attempt %d/%d failed: %v", item.RetryCount, item.MaxRetries, err)
	} else {
		item.Rejected = true
		item.RetryCount = item.MaxRetries
		metrics.AttemptFailuresTotal.WithLabelValues("rejected").Inc()
		logger.Errorf("Sync rejected, giving up: %v", err)
	}
	if uerr := s.queue.Update(wctx, item); uerr != nil {
		logger.Errorf("Failed to record sync attempt: %v", uerr)
	}
	return false
}

func (s *Syncer) recordPass(ctx context.Context, synced int) {
	if synced == 0 {
		return
	}
	if err := s.cache.SetLastSync(context.WithoutCancel(ctx), s.now()); err != nil {
		log.Errorf("Failed to record last sync time: %v", err)
	}
}
