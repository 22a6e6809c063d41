package api

import (
	geojson "github.com/paulmach/go.geojson"
)

// Remote reporting backend endpoints.
const (
	ReportEndpoint = "/report"
	NearbyEndpoint = "/get_nearby"
	HealthEndpoint = "/health"
)

// Local control API endpoints served by the agent.
const (
	HelpEndpoint           = "/help"
	StatusEndpoint         = "/status"
	SubmitReportEndpoint   = "/report"
	SyncNowEndpoint        = "/sync_now"
	PendingReportsEndpoint = "/pending_reports"
	FailedItemsEndpoint    = "/failed_items"
	AbandonEndpoint        = "/abandon"
	RetryFailedEndpoint    = "/retry_failed"
	NearbyLocalEndpoint    = "/nearby"
	StatusStreamEndpoint   = "/ws/status"
	MetricsEndpoint        = "/metrics"
)

const Version = "2.0"

type HazardType string

const (
	HazardUnset      HazardType = ""
	HazardPothole    HazardType = "pothole"
	HazardDebris     HazardType = "debris"
	HazardFlooding   HazardType = "flooding"
	HazardCrack      HazardType = "crack"
	HazardSignage    HazardType = "signage"
	HazardLighting   HazardType = "lighting"
	HazardRoadClosed HazardType = "road_closed"
	HazardOther      HazardType = "other"
)

func (h HazardType) Valid() bool {
	switch h {
	case HazardUnset, HazardPothole, HazardDebris, HazardFlooding, HazardCrack,
		HazardSignage, HazardLighting, HazardRoadClosed, HazardOther:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type ViewPort struct {
	LatMin float64 `json:"latmin"`
	LonMin float64 `json:"lonmin"`
	LatMax float64 `json:"latmax"`
	LonMax float64 `json:"lonmax"`
}

type ReportArgs struct {
	Version   string     `json:"version"` // Must be "2.0"
	Id        string     `json:"id"`      // Client generated, stable across retries.
	Type      HazardType `json:"type,omitempty"`
	Severity  Severity   `json:"severity"`
	Address   string     `json:"address"`
	Notes     string     `json:"notes"`
	Timestamp string     `json:"timestamp"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	Image     []byte     `json:"image,omitempty"`
	PhotoURI  string     `json:"-"` // Local file, read by the client before upload.
}

type ReportResponse struct {
	Seq int `json:"seq"`
}

type NearbyArgs struct {
	Version string   `json:"version"` // Must be "2.0"
	VPort   ViewPort `json:"vport"`
}

type CachedReport struct {
	Seq       int        `json:"seq"`
	Id        string     `json:"id"`
	Type      HazardType `json:"type,omitempty"`
	Severity  Severity   `json:"severity"`
	Address   string     `json:"address"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Status    string     `json:"status"`
	Timestamp string     `json:"timestamp"`
}

type NearbyResponse struct {
	Reports []CachedReport `json:"reports"`
}

// SubmitReportArgs is what UI layers post to the local agent.
type SubmitReportArgs struct {
	Id        string     `json:"id"` // Optional, generated when empty.
	Type      HazardType `json:"type"`
	Severity  Severity   `json:"severity"`
	Address   string     `json:"address"`
	Notes     string     `json:"notes"`
	Timestamp string     `json:"timestamp"`
	PhotoURI  string     `json:"photo_uri"`
	Location  *Point     `json:"location"`
}

type SubmitReportResponse struct {
	Id     string `json:"id"`
	Queued bool   `json:"queued"`
	Seq    int    `json:"seq,omitempty"`
}

type StatusResponse struct {
	Online       bool  `json:"online"`
	PendingCount int   `json:"pending_count"`
	LastSync     int64 `json:"last_sync"` // Epoch millis, 0 when never synced.
}

type SyncNowResponse struct {
	Synced       int `json:"synced"`
	PendingCount int `json:"pending_count"`
}

type ItemArgs struct {
	Id string `json:"id"`
}

type NearbyLocalResponse struct {
	Live     bool                       `json:"live"`  // Fetched from the backend just now.
	Stale    bool                       `json:"stale"` // Cache is outside the viewport or too old.
	Features *geojson.FeatureCollection `json:"features"`
}
