package carphoto

import (
	"context"
	"time"

	"carphoto/internal/index"
)

// Cache is the optional relational mirror of cars, slot statistics and
// links. It is refreshed from reads and never consulted for a write
// decision. Implementations may be dropped and rebuilt at any time.
type Cache interface {
	// SyncRegion makes the cached cars of region exactly cars: listed cars
	// are upserted, cars no longer listed are removed.
	SyncRegion(ctx context.Context, region string, cars []Car) error

	// RegionCars returns the cached live cars of region ordered by folder.
	RegionCars(ctx context.Context, region string) ([]Car, error)

	// SyncSlots upserts the statistics of some or all slots of a car.
	SyncSlots(ctx context.Context, region, vin string, slots []SlotStats) error

	// CarSlots returns the cached slot statistics of a car.
	CarSlots(ctx context.Context, region, vin string) ([]SlotStats, error)

	// SyncLinks replaces the cached links of a car.
	SyncLinks(ctx context.Context, region, vin string, links []index.Link) error

	// MarkDeleted flags a cached car as archived.
	MarkDeleted(ctx context.Context, region, vin string, at time.Time, by string) error

	// Close releases the cache.
	Close() error
}

// NopCache caches nothing.
type NopCache struct{}

func (NopCache) SyncRegion(context.Context, string, []Car) error { return nil }
func (NopCache) RegionCars(context.Context, string) ([]Car, error) {
	return nil, nil
}
func (NopCache) SyncSlots(context.Context, string, string, []SlotStats) error { return nil }
func (NopCache) CarSlots(context.Context, string, string) ([]SlotStats, error) {
	return nil, nil
}
func (NopCache) SyncLinks(context.Context, string, string, []index.Link) error { return nil }
func (NopCache) MarkDeleted(context.Context, string, string, time.Time, string) error {
	return nil
}
func (NopCache) Close() error { return nil }

var _ Cache = NopCache{}
