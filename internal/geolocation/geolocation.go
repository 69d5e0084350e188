package geolocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campusattend/internal/apperr"
	"campusattend/internal/geofence"
)

// DefaultTimeout bounds how long Acquire waits for a fix.
const DefaultTimeout = 10 * time.Second

// ErrPermissionDenied is returned by sources the user has not authorized.
var ErrPermissionDenied = errors.New("location permission denied")

// Source yields the device's current position.
type Source interface {
	CurrentPosition(ctx context.Context) (geofence.GeoPoint, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (geofence.GeoPoint, error)

// CurrentPosition calls f.
func (f SourceFunc) CurrentPosition(ctx context.Context) (geofence.GeoPoint, error) {
	return f(ctx)
}

// Reported is a fix the client already obtained and submitted.
type Reported struct {
	Point    geofence.GeoPoint
	Accuracy float64
}

// CurrentPosition returns the submitted point.
func (r Reported) CurrentPosition(ctx context.Context) (geofence.GeoPoint, error) {
	if err := ctx.Err(); err != nil {
		return geofence.GeoPoint{}, err
	}
	return r.Point, nil
}

// Acquire waits at most timeout for a fix from src and validates it.
// Timeouts and refused permission surface as ErrProviderUnavailable.
func Acquire(ctx context.Context, src Source, timeout time.Duration) (geofence.GeoPoint, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type fix struct {
		p   geofence.GeoPoint
		err error
	}
	ch := make(chan fix, 1)
	go func() {
		p, err := src.CurrentPosition(ctx)
		ch <- fix{p, err}
	}()

	select {
	case <-ctx.Done():
		return geofence.GeoPoint{}, fmt.Errorf("location fix: %w: %v", apperr.ErrProviderUnavailable, ctx.Err())
	case f := <-ch:
		if f.err != nil {
			if errors.Is(f.err, apperr.ErrInputInvalid) {
				return geofence.GeoPoint{}, f.err
			}
			return geofence.GeoPoint{}, fmt.Errorf("location fix: %w: %v", apperr.ErrProviderUnavailable, f.err)
		}
		if err := f.p.Validate(); err != nil {
			return geofence.GeoPoint{}, err
		}
		return f.p, nil
	}
}
