package offline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadhazard/api"
	"roadhazard/kvstore"
)

func newReports(store kvstore.Store) *Reports {
	return NewReports(NewQueue(store, 3), store)
}

func TestSavePendingReportRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newReports(kvstore.NewMemStore())

	in := report("r1", 1714557600000)
	in.PhotoURI = "file:///tmp/p.jpg"
	in.Location = &api.Point{Lat: 52.52, Lon: 13.405}
	require.NoError(t, r.SavePendingReport(ctx, in))

	got := r.GetPendingReports(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, in, got[0])
	assert.Equal(t, 1, r.GetPendingReportsCount(ctx))
}

func TestSavePendingReportStampsSavedAt(t *testing.T) {
	ctx := context.Background()
	r := newReports(kvstore.NewMemStore())
	require.NoError(t, r.SavePendingReport(ctx, report("r1", 0)))
	got := r.GetPendingReports(ctx)
	require.Len(t, got, 1)
	assert.NotZero(t, got[0].SavedAt)
}

func TestSavePendingReportValidates(t *testing.T) {
	ctx := context.Background()
	r := newReports(kvstore.NewMemStore())

	bad := report("r1", 1)
	bad.Severity = "extreme"
	assert.Error(t, r.SavePendingReport(ctx, bad))
	assert.Error(t, r.SavePendingReport(ctx, report("", 1)))
	assert.Empty(t, r.GetPendingReports(ctx))
}

func TestRemovePendingReportUnknownID(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	r := newReports(store)
	require.NoError(t, r.SavePendingReport(ctx, report("r1", 1)))
	before, _, _ := store.Get(ctx, KeySyncQueue)

	assert.NoError(t, r.RemovePendingReport(ctx, "missing"))
	after, _, _ := store.Get(ctx, KeySyncQueue)
	assert.Equal(t, before, after)

	assert.NoError(t, r.RemovePendingReport(ctx, "r1"))
	assert.Zero(t, r.GetPendingReportsCount(ctx))
}

func TestClearPendingReportsKeepsOtherMutations(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	q := NewQueue(store, 3)
	r := NewReports(q, store)

	require.NoError(t, r.SavePendingReport(ctx, report("r1", 1)))
	_, err := q.Enqueue(ctx, SyncQueueItem{ID: "v1", Type: "UPVOTE", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	require.NoError(t, r.ClearPendingReports(ctx))
	assert.Empty(t, r.GetPendingReports(ctx))
	items, _ := q.Items(ctx)
	require.Len(t, items, 1)
	assert.Equal(t, "v1", items[0].ID)
}

func TestGarbageLegacyKey(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	require.NoError(t, store.Set(ctx, KeyPendingReports, "\x00garbage]]"))
	r := newReports(store)

	assert.NotNil(t, r.GetPendingReports(ctx))
	assert.Empty(t, r.GetPendingReports(ctx))

	n, err := r.MigrateLegacy(ctx)
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, r.GetPendingReports(ctx))
}

func TestMigrateLegacy(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	r := newReports(store)

	legacy := []PendingReport{report("a", 10), report("b", 20), report("a", 30)}
	b, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, KeyPendingReports, string(b)))
	// Already queued before the upgrade.
	require.NoError(t, r.SavePendingReport(ctx, report("b", 20)))

	n, err := r.MigrateLegacy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got := r.GetPendingReports(ctx)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, int64(10), got[0].SavedAt)
	assert.Equal(t, "b", got[1].ID)

	_, ok, _ := store.Get(ctx, KeyPendingReports)
	assert.False(t, ok)

	n, err = r.MigrateLegacy(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetPendingReportsStoreFailure(t *testing.T) {
	r := newReports(brokenStore{})
	assert.Empty(t, r.GetPendingReports(context.Background()))
	assert.Zero(t, r.GetPendingReportsCount(context.Background()))
}
