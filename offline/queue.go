package offline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/apex/log"

	"roadhazard/kvstore"
)

// Queue is the durable list of mutations waiting for the backend. All
// read-modify-write cycles on the stored list go through mu.
type Queue struct {
	store      kvstore.Store
	maxRetries int
	now        func() time.Time

	mu sync.Mutex
}

func NewQueue(store kvstore.Store, maxRetries int) *Queue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{
		store:      store,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

func (q *Queue) load(ctx context.Context) ([]SyncQueueItem, error) {
	var items []SyncQueueItem
	if _, err := readJSON(ctx, q.store, KeySyncQueue, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (q *Queue) save(ctx context.Context, items []SyncQueueItem) error {
	if items == nil {
		items = []SyncQueueItem{}
	}
	return writeJSON(ctx, q.store, KeySyncQueue, items)
}

// modify runs fn on the stored list under the queue lock and persists the
// result when fn reports a change.
func (q *Queue) modify(ctx context.Context, fn func([]SyncQueueItem) ([]SyncQueueItem, bool, error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}
	items, changed, err := fn(items)
	if err != nil || !changed {
		return err
	}
	return q.save(ctx, items)
}

func indexOf(items []SyncQueueItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) normalize(item *SyncQueueItem) {
	if item.ID == "" {
		item.ID = NewReportID()
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = q.maxRetries
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = q.now().UnixMilli()
	}
	if item.RetryCount < 0 {
		item.RetryCount = 0
	}
	if item.RetryCount > item.MaxRetries {
		item.RetryCount = item.MaxRetries
	}
}

// Enqueue appends item and returns it as stored. An item whose ID is
// already queued is left alone and the stored copy is returned.
func (q *Queue) Enqueue(ctx context.Context, item SyncQueueItem) (SyncQueueItem, error) {
	q.normalize(&item)
	stored := item
	added := false
	err := q.modify(ctx, func(items []SyncQueueItem) ([]SyncQueueItem, bool, error) {
		if i := indexOf(items, item.ID); i >= 0 {
			stored = items[i]
			return items, false, nil
		}
		added = true
		return append(items, item), true, nil
	})
	if err != nil {
		return SyncQueueItem{}, err
	}
	if added {
		log.WithField("id", item.ID).Infof("Queued %s", item.Type)
	}
	return stored, nil
}

// Items returns a snapshot of the queue, oldest first.
func (q *Queue) Items(ctx context.Context) ([]SyncQueueItem, error) {
	q.mu.Lock()
	items, err := q.load(ctx)
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt < items[j].CreatedAt
	})
	return items, nil
}

func (q *Queue) Get(ctx context.Context, id string) (SyncQueueItem, bool, error) {
	items, err := q.Items(ctx)
	if err != nil {
		return SyncQueueItem{}, false, err
	}
	if i := indexOf(items, id); i >= 0 {
		return items[i], true, nil
	}
	return SyncQueueItem{}, false, nil
}

// Count is the number of items still eligible for automatic sync.
func (q *Queue) Count(ctx context.Context) (int, error) {
	items, err := q.Items(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range items {
		if !items[i].Exhausted() {
			n++
		}
	}
	return n, nil
}

// Failed returns the items that ran out of retry budget or were rejected
// by the backend. They stay queued until abandoned or retried.
func (q *Queue) Failed(ctx context.Context) ([]SyncQueueItem, error) {
	items, err := q.Items(ctx)
	if err != nil {
		return nil, err
	}
	var failed []SyncQueueItem
	for _, it := range items {
		if it.Exhausted() {
			failed = append(failed, it)
		}
	}
	return failed, nil
}

// Update replaces the stored item with the same ID. Items removed in the
// meantime are not resurrected.
func (q *Queue) Update(ctx context.Context, item SyncQueueItem) error {
	if item.RetryCount > item.MaxRetries {
		item.RetryCount = item.MaxRetries
	}
	return q.modify(ctx, func(items []SyncQueueItem) ([]SyncQueueItem, bool, error) {
		i := indexOf(items, item.ID)
		if i < 0 {
			return items, false, nil
		}
		items[i] = item
		return items, true, nil
	})
}

// Remove deletes the item with the given ID. Removing an unknown ID is a
// no-op; the returned bool tells whether anything was removed.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	removed := false
	err := q.modify(ctx, func(items []SyncQueueItem) ([]SyncQueueItem, bool, error) {
		i := indexOf(items, id)
		if i < 0 {
			return items, false, nil
		}
		removed = true
		return append(items[:i], items[i+1:]...), true, nil
	})
	return removed, err
}

// RemoveIf deletes every item for which drop returns true and reports how
// many were deleted.
func (q *Queue) RemoveIf(ctx context.Context, drop func(SyncQueueItem) bool) (int, error) {
	n := 0
	err := q.modify(ctx, func(items []SyncQueueItem) ([]SyncQueueItem, bool, error) {
		kept := items[:0]
		for _, it := range items {
			if drop(it) {
				n++
				continue
			}
			kept = append(kept, it)
		}
		return kept, n > 0, nil
	})
	return n, err
}

// Abandon discards an item the user gave up on.
func (q *Queue) Abandon(ctx context.Context, id string) error {
	removed, err := q.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	log.WithField("id", id).Info("Abandoned queued mutation")
	return nil
}

// Retry gives a failed item a fresh retry budget.
func (q *Queue) Retry(ctx context.Context, id string) error {
	found := false
	err := q.modify(ctx, func(items []SyncQueueItem) ([]SyncQueueItem, bool, error) {
		i := indexOf(items, id)
		if i < 0 {
			return items, false, nil
		}
		found = true
		items[i].RetryCount = 0
		items[i].Rejected = false
		items[i].LastError = ""
		return items, true, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return removeKey(ctx, q.store, KeySyncQueue)
}
