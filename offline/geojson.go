package offline

import (
	geojson "github.com/paulmach/go.geojson"

	"roadhazard/api"
)

// FeatureCollection renders cached reports as GeoJSON points.
func FeatureCollection(reports []api.CachedReport) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range reports {
		f := geojson.NewPointFeature([]float64{r.Longitude, r.Latitude})
		f.ID = r.Id
		f.SetProperty("seq", r.Seq)
		f.SetProperty("type", string(r.Type))
		f.SetProperty("severity", string(r.Severity))
		f.SetProperty("address", r.Address)
		f.SetProperty("status", r.Status)
		f.SetProperty("timestamp", r.Timestamp)
		fc.AddFeature(f)
	}
	return fc
}
