package carphoto

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"carphoto/internal/diskpath"
	"carphoto/internal/index"
	"carphoto/internal/store"
)

// GetRegion returns the live cars of a region. A region index younger than
// the TTL is served with a single download; a missing, invalid or stale one
// is rebuilt with exactly one listing of the region folder. When the store
// stays unavailable the last cached listing is returned with Stale set.
func (s *Service) GetRegion(ctx context.Context, region string) (*Region, error) {
	const op = "get region"
	name, root, err := s.regionRoot(op, region)
	if err != nil {
		return nil, err
	}

	// The load is shared with every caller that joins it, so one caller
	// giving up must not fail the others.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.flight.Do("region:"+root, func() (any, error) {
		return s.loadRegion(shared, op, name, root)
	})
	if err != nil {
		return nil, err
	}
	loaded := v.(*Region)
	r := *loaded
	r.Cars = append([]Car{}, loaded.Cars...)
	return &r, nil
}

func (s *Service) loadRegion(ctx context.Context, op, name, root string) (*Region, error) {
	idx, err := s.regionIndex(ctx, root)
	if err != nil {
		if store.IsTransient(err) {
			return s.regionFromCache(ctx, op, name, err)
		}
		return nil, classify(op, "loading region index", err)
	}

	r := &Region{Name: name, UpdatedAt: idx.UpdatedAt, Cars: make([]Car, 0, len(idx.Cars))}
	for _, c := range idx.Cars {
		car := carFromSummary(name, diskpath.Join(root, c.Folder), c)
		r.Cars = append(r.Cars, car)
		s.cars.Add(carKey(name, c.VIN), car)
	}
	s.syncCache("region "+name, func(ctx context.Context) error {
		return s.cache.SyncRegion(ctx, name, r.Cars)
	})
	return r, nil
}

// regionIndex returns a fresh region index, rebuilding it when it is
// missing, invalid or older than the TTL.
func (s *Service) regionIndex(ctx context.Context, root string) (*index.RegionIndex, error) {
	data, err := s.download(ctx, diskpath.Join(root, diskpath.RegionIndexFile))
	if err != nil {
		return nil, err
	}
	if data != nil {
		idx, vr := index.DecodeRegionIndex(data)
		switch {
		case !vr.OK:
			s.logger.Warn("invalid region index", "path", root, "problems", vr.String())
		case s.clock.Now().Sub(idx.UpdatedAt) < s.settings.RegionTTL:
			return idx, nil
		default:
			s.logger.Debug("region index stale", "path", root, "updated_at", idx.UpdatedAt)
		}
	}
	idx, _, err := s.reconciler.Region(ctx, root)
	return idx, err
}

func (s *Service) regionFromCache(ctx context.Context, op, name string, cause error) (*Region, error) {
	cars, err := s.cache.RegionCars(ctx, name)
	if err != nil || len(cars) == 0 {
		if err != nil {
			s.logger.Warn("reading cached region failed", "region", name, "error", err)
		}
		return nil, classify(op, "store unavailable and no cached listing", cause)
	}
	s.metrics.RecordCacheFallback()
	s.logger.Warn("serving cached region", "region", name, "cars", len(cars), "error", cause)
	return &Region{Name: name, Cars: cars, Stale: true}, nil
}

// GetCar reads the car metadata at its deterministic path and returns the
// fixed 14-slot catalog. No folder is listed and no slot is checked.
func (s *Service) GetCar(ctx context.Context, region, vin string) (*CarDetail, error) {
	const op = "get car"
	car, err := s.resolveCar(ctx, op, region, vin)
	if err != nil {
		return nil, err
	}

	data, err := s.download(ctx, diskpath.Join(car.Root, diskpath.CarMetadataFile))
	if err != nil {
		return nil, classify(op, "reading car metadata", err)
	}
	if data == nil {
		s.logger.Warn("car metadata missing", "path", car.Root)
	} else if meta, vr := index.DecodeCarMetadata(data); !vr.OK {
		s.logger.Warn("invalid car metadata", "path", car.Root, "problems", vr.String())
	} else {
		if meta.Deleted {
			s.cars.Remove(carKey(car.Region, car.VIN))
			return nil, newError(CodeNotFound, op, "car %s is archived", car.VIN)
		}
		car.Make = meta.Make
		car.Model = meta.Model
		car.CreatedAt = meta.CreatedAt
		car.CreatedBy = meta.CreatedBy
	}

	return &CarDetail{Car: car, Slots: diskpath.AllSlotPaths(car.Root)}, nil
}

// slotStrategy loads slot statistics from one source. ok is false when the
// source does not apply and the next strategy should be tried.
type slotStrategy struct {
	name string
	load func(s *Service, ctx context.Context, ref diskpath.SlotRef) (stats SlotStats, ok bool, err error)
}

// slotStrategies are tried in order. The last one always applies.
var slotStrategies = []slotStrategy{
	{name: SourceDirty, load: (*Service).statsIfDirty},
	{name: SourcePhotos, load: (*Service).statsFromPhotoIndex},
	{name: SourceSummary, load: (*Service).statsFromSummary},
	{name: SourceLock, load: (*Service).statsFromLock},
	{name: SourceReconcile, load: (*Service).statsFromReconcile},
}

// GetSlotCounts loads the statistics of all 14 slots of a car. It is the
// only read allowed to list slot folders, and only for slots without any
// usable index document.
func (s *Service) GetSlotCounts(ctx context.Context, region, vin string) ([]SlotStats, error) {
	const op = "get slot counts"
	car, err := s.resolveCar(ctx, op, region, vin)
	if err != nil {
		return nil, err
	}

	refs := diskpath.AllSlotPaths(car.Root)
	out := make([]SlotStats, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, ref := range refs {
		g.Go(func() error {
			st, err := s.slotStats(gctx, ref)
			if err != nil {
				return fmt.Errorf("slot %s %d: %w", ref.Type, ref.Index, err)
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, classify(op, "loading slot statistics", err)
	}

	s.syncCache("slots "+car.VIN, func(ctx context.Context) error {
		return s.cache.SyncSlots(ctx, car.Region, car.VIN, out)
	})
	return out, nil
}

func (s *Service) slotStats(ctx context.Context, ref diskpath.SlotRef) (SlotStats, error) {
	for _, strategy := range slotStrategies {
		st, ok, err := strategy.load(s, ctx, ref)
		if err != nil {
			return SlotStats{}, err
		}
		if ok {
			return st, nil
		}
	}
	// statsFromReconcile always applies.
	return SlotStats{}, fmt.Errorf("no statistics for %s", ref.Path)
}

func (s *Service) statsIfDirty(ctx context.Context, ref diskpath.SlotRef) (SlotStats, bool, error) {
	data, err := s.download(ctx, diskpath.Join(ref.Path, diskpath.DirtyFile))
	if err != nil || data == nil {
		return SlotStats{}, false, err
	}
	s.logger.Info("slot marked dirty, reconciling", "path", ref.Path)
	st, _, err := s.statsFromReconcile(ctx, ref)
	return st, true, err
}

func (s *Service) statsFromPhotoIndex(ctx context.Context, ref diskpath.SlotRef) (SlotStats, bool, error) {
	data, err := s.download(ctx, diskpath.Join(ref.Path, diskpath.PhotoIndexFile))
	if err != nil || data == nil {
		return SlotStats{}, false, err
	}
	idx, vr := index.DecodePhotoIndex(data)
	if !vr.OK {
		// A present but broken index is never trusted, and the cheaper
		// documents are derived from it.
		s.logger.Warn("invalid photo index, reconciling", "path", ref.Path, "problems", vr.String())
		st, _, err := s.statsFromReconcile(ctx, ref)
		return st, true, err
	}
	return statsFromIndex(ref, idx, SourcePhotos), true, nil
}

func (s *Service) statsFromSummary(ctx context.Context, ref diskpath.SlotRef) (SlotStats, bool, error) {
	data, err := s.download(ctx, diskpath.Join(ref.Path, diskpath.SlotSummaryFile))
	if err != nil || data == nil {
		return SlotStats{}, false, err
	}
	sum, vr := index.DecodeSlotSummary(data)
	if !vr.OK {
		return SlotStats{}, false, nil
	}
	return SlotStats{
		Type:      ref.Type,
		Index:     ref.Index,
		Path:      ref.Path,
		Count:     sum.Count,
		TotalSize: sum.TotalSize,
		Cover:     sum.Cover,
		Used:      sum.Count > 0,
		PublicURL: sum.PublicURL,
		UpdatedAt: sum.UpdatedAt,
		Source:    SourceSummary,
	}, true, nil
}

// statsFromLock reads the statistics older writers left in lock markers.
func (s *Service) statsFromLock(ctx context.Context, ref diskpath.SlotRef) (SlotStats, bool, error) {
	data, err := s.download(ctx, diskpath.Join(ref.Path, diskpath.LockFile))
	if err != nil || data == nil {
		return SlotStats{}, false, err
	}
	lock, vr := index.DecodeLockMarker(data)
	if !vr.OK || lock.Count == nil {
		return SlotStats{}, false, nil
	}
	st := SlotStats{
		Type:      ref.Type,
		Index:     ref.Index,
		Path:      ref.Path,
		Count:     *lock.Count,
		Used:      *lock.Count > 0,
		UpdatedAt: lock.AcquiredAt,
		Source:    SourceLock,
	}
	if lock.TotalSize != nil {
		st.TotalSize = *lock.TotalSize
	}
	return st, true, nil
}

func (s *Service) statsFromReconcile(ctx context.Context, ref diskpath.SlotRef) (SlotStats, bool, error) {
	idx, err := s.reconcileSlot(ctx, ref.Path)
	if err != nil {
		return SlotStats{}, false, err
	}
	return statsFromIndex(ref, idx, SourceReconcile), true, nil
}

// reconcileSlot coalesces concurrent read-side reconciliations of one slot.
// The returned index is the caller's own copy.
func (s *Service) reconcileSlot(ctx context.Context, path string) (*index.PhotoIndex, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.flight.Do("slot:"+path, func() (any, error) {
		idx, _, err := s.reconciler.Slot(shared, path)
		return idx, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*index.PhotoIndex).Clone(), nil
}

// ListPhotos returns the indexed photos of a slot, reconciling the slot
// when its index is missing or invalid.
func (s *Service) ListPhotos(ctx context.Context, target SlotTarget) ([]index.PhotoItem, error) {
	const op = "list photos"
	_, ref, err := s.resolveSlot(ctx, op, target)
	if err != nil {
		return nil, err
	}
	idx, err := s.loadPhotoIndex(ctx, ref.Path)
	if err != nil {
		return nil, classify(op, "loading photo index", err)
	}
	return idx.Items, nil
}

// loadPhotoIndex reads a slot's photo index, falling back to a
// reconciliation when it is missing or invalid.
func (s *Service) loadPhotoIndex(ctx context.Context, slotPath string) (*index.PhotoIndex, error) {
	data, err := s.download(ctx, diskpath.Join(slotPath, diskpath.PhotoIndexFile))
	if err != nil {
		return nil, err
	}
	if data != nil {
		idx, vr := index.DecodePhotoIndex(data)
		if vr.OK {
			return idx, nil
		}
		s.logger.Warn("invalid photo index, reconciling", "path", slotPath, "problems", vr.String())
	}
	idx, _, err := s.reconciler.Slot(ctx, slotPath)
	return idx, err
}
