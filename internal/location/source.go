package location

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mycelian/vendor-presence/internal/types"
)

// Thresholds bound how often a Watch reports: at most once per Interval and
// only after moving DistanceMeters since the previous report. Zero disables
// a bound.
type Thresholds struct {
	Interval       time.Duration
	DistanceMeters float64
}

// Watch is a live sample subscription.
type Watch interface {
	// Stop cancels the subscription. No callback runs after Stop returns.
	Stop()
}

// Source is the device location provider.
type Source interface {
	// RequestPermission asks the user for location access.
	RequestPermission(ctx context.Context) (bool, error)
	// Current returns one fresh sample.
	Current(ctx context.Context) (types.Sample, error)
	// Watch reports samples to fn until ctx is cancelled or the returned
	// Watch is stopped. Calls to fn are never concurrent.
	Watch(ctx context.Context, th Thresholds, fn func(types.Sample)) (Watch, error)
}

// AddressFunc renders the human-readable label stored with a location.
type AddressFunc func(types.Sample) string

// CoordinateAddress is the default AddressFunc.
func CoordinateAddress(s types.Sample) string {
	return fmt.Sprintf("%.6f,%.6f", s.Latitude, s.Longitude)
}

const earthRadiusMeters = 6371008.8

// DistanceMeters is the great-circle distance between two samples.
func DistanceMeters(a, b types.Sample) float64 {
	rad := math.Pi / 180
	lat1, lat2 := a.Latitude*rad, b.Latitude*rad
	dLat := (b.Latitude - a.Latitude) * rad
	dLng := (b.Longitude - a.Longitude) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
