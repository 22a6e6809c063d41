package offline

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/s2"

	"roadhazard/api"
	"roadhazard/kvstore"
)

const DefaultCacheMaxAge = 24 * time.Hour

// CachedRegion is the map window the cached nearby reports were fetched for.
type CachedRegion struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	LatitudeDelta  float64 `json:"latitudeDelta"`
	LongitudeDelta float64 `json:"longitudeDelta"`
	Timestamp      int64   `json:"timestamp"`
}

func lonSpan(vp api.ViewPort) float64 {
	span := vp.LonMax - vp.LonMin
	if span < 0 {
		// Crosses the antimeridian.
		span += 360
	}
	return span
}

func viewPortCenter(vp api.ViewPort) s2.LatLng {
	lat := (vp.LatMin + vp.LatMax) / 2
	lon := vp.LonMin + lonSpan(vp)/2
	return s2.LatLngFromDegrees(lat, lon).Normalized()
}

func RegionFromViewPort(vp api.ViewPort, now time.Time) CachedRegion {
	c := viewPortCenter(vp)
	return CachedRegion{
		Latitude:       c.Lat.Degrees(),
		Longitude:      c.Lng.Degrees(),
		LatitudeDelta:  math.Abs(vp.LatMax - vp.LatMin),
		LongitudeDelta: lonSpan(vp),
		Timestamp:      now.UnixMilli(),
	}
}

func (r CachedRegion) Rect() s2.Rect {
	center := s2.LatLngFromDegrees(r.Latitude, r.Longitude).Normalized()
	size := s2.LatLngFromDegrees(r.LatitudeDelta, r.LongitudeDelta)
	return s2.RectFromCenterSize(center, size)
}

func (r CachedRegion) Contains(lat, lon float64) bool {
	return r.Rect().ContainsLatLng(s2.LatLngFromDegrees(lat, lon).Normalized())
}

func (r CachedRegion) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(time.UnixMilli(r.Timestamp)) <= maxAge
}

// Relevant tells whether the cache can stand in for a live fetch of vp.
func (r CachedRegion) Relevant(vp api.ViewPort, now time.Time, maxAge time.Duration) bool {
	if !r.Fresh(now, maxAge) {
		return false
	}
	c := viewPortCenter(vp)
	return r.Rect().ContainsLatLng(c)
}

// FilterReports keeps the reports located inside vp.
func FilterReports(reports []api.CachedReport, vp api.ViewPort) []api.CachedReport {
	rect := RegionFromViewPort(vp, time.Time{}).Rect()
	out := make([]api.CachedReport, 0, len(reports))
	for _, rep := range reports {
		if rect.ContainsLatLng(s2.LatLngFromDegrees(rep.Latitude, rep.Longitude).Normalized()) {
			out = append(out, rep)
		}
	}
	return out
}

// RegionCache stores the last nearby-reports response and the region it
// covers, for map display while offline.
type RegionCache struct {
	store kvstore.Store
	mu    sync.Mutex
}

func NewRegionCache(store kvstore.Store) *RegionCache {
	return &RegionCache{store: store}
}

// Save overwrites the cached reports and region.
func (c *RegionCache) Save(ctx context.Context, region CachedRegion, reports []api.CachedReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reports == nil {
		reports = []api.CachedReport{}
	}
	if err := writeJSON(ctx, c.store, KeyNearbyReports, reports); err != nil {
		return err
	}
	return writeJSON(ctx, c.store, KeyCachedRegion, region)
}

func (c *RegionCache) Reports(ctx context.Context) ([]api.CachedReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var reports []api.CachedReport
	if _, err := readJSON(ctx, c.store, KeyNearbyReports, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

func (c *RegionCache) Region(ctx context.Context) (CachedRegion, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var region CachedRegion
	found, err := readJSON(ctx, c.store, KeyCachedRegion, &region)
	return region, found, err
}

func (c *RegionCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := removeKey(ctx, c.store, KeyNearbyReports); err != nil {
		return err
	}
	return removeKey(ctx, c.store, KeyCachedRegion)
}

// LastSync is the time of the last sync pass that confirmed at least one
// mutation.
func (c *RegionCache) LastSync(ctx context.Context) (time.Time, bool, error) {
	var ms int64
	found, err := readJSON(ctx, c.store, KeyLastSync, &ms)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (c *RegionCache) SetLastSync(ctx context.Context, t time.Time) error {
	return writeJSON(ctx, c.store, KeyLastSync, t.UnixMilli())
}
