package offline

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"roadhazard/api"
)

type MutationType string

const (
	MutationCreateReport MutationType = "CREATE_REPORT"
)

const DefaultMaxRetries = 3

// Storage keys. The layout is shared with older app builds, so these
// strings must not change.
const (
	KeyPendingReports = "pending_reports"
	KeySyncQueue      = "offline_sync_queue"
	KeyNearbyReports  = "offline_nearby_reports"
	KeyCachedRegion   = "offline_cached_region"
	KeyLastSync       = "offline_last_sync"
)

// PendingReport is a hazard report created on the device and not yet
// confirmed by the backend.
type PendingReport struct {
	ID        string         `json:"id"`
	Type      api.HazardType `json:"type,omitempty"`
	Severity  api.Severity   `json:"severity"`
	Address   string         `json:"address"`
	Notes     string         `json:"notes"`
	Timestamp string         `json:"timestamp"`
	PhotoURI  string         `json:"photoUri,omitempty"`
	Location  *api.Point     `json:"location,omitempty"`
	SavedAt   int64          `json:"savedAt"`
}

func NewReportID() string {
	return uuid.NewString()
}

func (r *PendingReport) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidReport)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w %s: unknown hazard type %q", ErrInvalidReport, r.ID, r.Type)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w %s: unknown severity %q", ErrInvalidReport, r.ID, r.Severity)
	}
	return nil
}

func (r *PendingReport) ReportArgs() api.ReportArgs {
	args := api.ReportArgs{
		Id:        r.ID,
		Type:      r.Type,
		Severity:  r.Severity,
		Address:   r.Address,
		Notes:     r.Notes,
		Timestamp: r.Timestamp,
		PhotoURI:  r.PhotoURI,
	}
	if r.Location != nil {
		lat, lon := r.Location.Lat, r.Location.Lon
		args.Latitude = &lat
		args.Longitude = &lon
	}
	return args
}

// SyncQueueItem is one not-yet-confirmed mutation. Payload depends on Type;
// for MutationCreateReport it is a PendingReport.
type SyncQueueItem struct {
	ID          string          `json:"id"`
	Type        MutationType    `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	PhotoURI    string          `json:"photoUri,omitempty"`
	RetryCount  int             `json:"retryCount"`
	MaxRetries  int             `json:"maxRetries"`
	CreatedAt   int64           `json:"createdAt"`
	LastAttempt *int64          `json:"lastAttempt,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	Rejected    bool            `json:"rejected,omitempty"`
}

// Exhausted items are never submitted automatically again.
func (i *SyncQueueItem) Exhausted() bool {
	return i.RetryCount >= i.MaxRetries
}

// NewCreateReportItem wraps r as a queue item keyed by the report id, so
// a report can be queued at most once.
func NewCreateReportItem(r PendingReport, maxRetries int) (SyncQueueItem, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return SyncQueueItem{}, fmt.Errorf("encode report %s: %w", r.ID, err)
	}
	return SyncQueueItem{
		ID:         r.ID,
		Type:       MutationCreateReport,
		Payload:    payload,
		PhotoURI:   r.PhotoURI,
		MaxRetries: maxRetries,
		CreatedAt:  r.SavedAt,
	}, nil
}

// Report decodes the payload of a MutationCreateReport item.
func (i *SyncQueueItem) Report() (PendingReport, error) {
	var r PendingReport
	if i.Type != MutationCreateReport {
		return r, fmt.Errorf("item %s is %s, not %s", i.ID, i.Type, MutationCreateReport)
	}
	if err := json.Unmarshal(i.Payload, &r); err != nil {
		return r, fmt.Errorf("decode report payload of %s: %w", i.ID, err)
	}
	return r, nil
}
