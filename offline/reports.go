package offline

import (
	"context"
	"time"

	"github.com/apex/log"

	"roadhazard/kvstore"
)

// Reports keeps the pending-report API on top of the unified queue: every
// pending report is a MutationCreateReport item keyed by the report id.
type Reports struct {
	queue *Queue
	store kvstore.Store
	now   func() time.Time
}

func NewReports(queue *Queue, store kvstore.Store) *Reports {
	return &Reports{
		queue: queue,
		store: store,
		now:   time.Now,
	}
}

// SavePendingReport queues r for submission. SavedAt is stamped when the
// caller left it empty. Saving an id twice keeps the first copy.
func (r *Reports) SavePendingReport(ctx context.Context, report PendingReport) error {
	if err := report.Validate(); err != nil {
		return err
	}
	if report.SavedAt == 0 {
		report.SavedAt = r.now().UnixMilli()
	}
	item, err := NewCreateReportItem(report, r.queue.maxRetries)
	if err != nil {
		return err
	}
	_, err = r.queue.Enqueue(ctx, item)
	return err
}

// GetPendingReports lists queued reports, oldest first. Store failures and
// undecodable entries are logged and skipped.
func (r *Reports) GetPendingReports(ctx context.Context) []PendingReport {
	items, err := r.queue.Items(ctx)
	if err != nil {
		log.Errorf("Failed to read pending reports: %v", err)
		return []PendingReport{}
	}
	reports := make([]PendingReport, 0, len(items))
	for i := range items {
		if items[i].Type != MutationCreateReport {
			continue
		}
		rep, err := items[i].Report()
		if err != nil {
			log.WithField("id", items[i].ID).Warnf("Skipping pending report: %v", err)
			continue
		}
		reports = append(reports, rep)
	}
	return reports
}

// RemovePendingReport is a no-op for unknown ids.
func (r *Reports) RemovePendingReport(ctx context.Context, id string) error {
	_, err := r.queue.RemoveIf(ctx, func(it SyncQueueItem) bool {
		return it.ID == id && it.Type == MutationCreateReport
	})
	return err
}

func (r *Reports) ClearPendingReports(ctx context.Context) error {
	_, err := r.queue.RemoveIf(ctx, func(it SyncQueueItem) bool {
		return it.Type == MutationCreateReport
	})
	return err
}

// GetPendingReportsCount counts reports still eligible for sync. A store
// failure counts as zero.
func (r *Reports) GetPendingReportsCount(ctx context.Context) int {
	items, err := r.queue.Items(ctx)
	if err != nil {
		log.Errorf("Failed to count pending reports: %v", err)
		return 0
	}
	n := 0
	for i := range items {
		if items[i].Type == MutationCreateReport && !items[i].Exhausted() {
			n++
		}
	}
	return n
}

// MigrateLegacy moves reports saved under the old pending_reports key into
// the queue and deletes the key. Unreadable legacy data is left in place.
func (r *Reports) MigrateLegacy(ctx context.Context) (int, error) {
	var legacy []PendingReport
	found, err := readJSON(ctx, r.store, KeyPendingReports, &legacy)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}

	migrated := 0
	for _, rep := range legacy {
		if err := rep.Validate(); err != nil {
			log.Warnf("Dropping legacy pending report: %v", err)
			continue
		}
		if rep.SavedAt == 0 {
			rep.SavedAt = r.now().UnixMilli()
		}
		item, err := NewCreateReportItem(rep, r.queue.maxRetries)
		if err != nil {
			log.WithField("id", rep.ID).Warnf("Dropping legacy pending report: %v", err)
			continue
		}
		if _, err := r.queue.Enqueue(ctx, item); err != nil {
			return migrated, err
		}
		migrated++
	}
	if err := removeKey(ctx, r.store, KeyPendingReports); err != nil {
		return migrated, err
	}
	if migrated > 0 {
		log.Infof("Migrated %d legacy pending reports into the sync queue", migrated)
	}
	return migrated, nil
}
