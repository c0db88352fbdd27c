package carphoto

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"carphoto/internal/diskpath"
	"carphoto/internal/index"
	"carphoto/internal/retry"
	"carphoto/internal/store"
)

// CreateCar registers a car: its folder, its metadata and its entry in the
// region index. The duplicate check and the index update happen under the
// region lock.
func (s *Service) CreateCar(ctx context.Context, req CreateCarRequest) (*Car, error) {
	const op = "create car"
	vin, err := diskpath.NormalizeVIN(req.VIN)
	if err != nil {
		return nil, &Error{Code: CodeInvalidInput, Op: op, Err: err}
	}
	region, regionRoot, err := s.regionRoot(op, req.Region)
	if err != nil {
		return nil, err
	}
	if region == s.settings.Layout.ArchiveRegion() {
		return nil, newError(CodeInvalidInput, op, "cars cannot be created in the archive region")
	}
	if len(s.settings.Regions) > 0 && !slices.Contains(s.settings.Regions, region) {
		return nil, newError(CodeInvalidInput, op, "unknown region %s", region)
	}
	carMake := strings.TrimSpace(req.Make)
	model := strings.TrimSpace(req.Model)
	if carMake == "" || model == "" {
		return nil, newError(CodeInvalidInput, op, "make and model are required")
	}
	root, err := s.settings.Layout.CarRoot(region, carMake, model, vin)
	if err != nil {
		return nil, classify(op, "car path", err)
	}

	now := s.clock.Now().UTC()
	car := Car{
		Region:    region,
		VIN:       vin,
		Make:      carMake,
		Model:     model,
		Folder:    diskpath.Base(root),
		Root:      root,
		CreatedAt: now,
		CreatedBy: req.Actor,
	}

	var cars []Car
	err = s.withLock(ctx, regionRoot, op, func(*lock) error {
		idx, err := s.regionIndex(ctx, regionRoot)
		if err != nil {
			return classify(op, "reading region index", err)
		}
		if existing, ok := idx.Find(vin); ok {
			return newError(CodeConflict, op, "car %s already exists in %s as %q", vin, region, existing.Folder)
		}
		data, err := s.download(ctx, diskpath.Join(root, diskpath.CarMetadataFile))
		if err != nil {
			return classify(op, "checking car folder", err)
		}
		if data != nil {
			if meta, vr := index.DecodeCarMetadata(data); vr.OK && !meta.Deleted {
				return newError(CodeConflict, op, "car %s already exists at %s", vin, root)
			}
		}

		if err := s.store.EnsureFolder(ctx, root); err != nil {
			return classify(op, "creating car folder", err)
		}
		meta := &index.CarMetadata{
			Region:    region,
			Make:      carMake,
			Model:     model,
			VIN:       vin,
			CreatedAt: now,
			CreatedBy: req.Actor,
		}
		if err := s.writeDoc(ctx, diskpath.Join(root, diskpath.CarMetadataFile), meta); err != nil {
			return classify(op, "writing car metadata", err)
		}

		idx.Upsert(car.summary())
		idx.UpdatedAt = now
		if err := s.writeDoc(ctx, diskpath.Join(regionRoot, diskpath.RegionIndexFile), idx); err != nil {
			return classify(op, "writing region index", err)
		}
		for _, c := range idx.Cars {
			cars = append(cars, carFromSummary(region, diskpath.Join(regionRoot, c.Folder), c))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cars.Add(carKey(region, vin), car)
	s.syncCache("region "+region, func(ctx context.Context) error {
		return s.cache.SyncRegion(ctx, region, cars)
	})
	s.logger.Info("car created", "region", region, "vin", vin, "path", root, "actor", req.Actor)
	return &car, nil
}

// archiveSuffix is appended to an archive folder name that is taken.
const archiveSuffix = "20060102-150405"

// ArchiveCar moves a car's folder into the archive region and marks it
// deleted. The move is retried up to ArchiveAttempts times on transient
// failures; when it still fails nothing else has been changed.
func (s *Service) ArchiveCar(ctx context.Context, region, vin, actor string) (*Car, error) {
	const op = "archive car"
	car, err := s.resolveCar(ctx, op, region, vin)
	if err != nil {
		return nil, err
	}
	archive := s.settings.Layout.ArchiveRegion()
	if car.Region == archive {
		return nil, newError(CodeInvalidInput, op, "car %s is already archived", car.VIN)
	}
	archiveRoot, err := s.settings.Layout.RegionRoot(archive)
	if err != nil {
		return nil, classify(op, "archive path", err)
	}
	_, regionRoot, err := s.regionRoot(op, car.Region)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	dst := diskpath.Join(archiveRoot, car.Folder)
	taken, err := s.store.Exists(ctx, dst)
	if err != nil {
		return nil, classify(op, "checking archive folder", err)
	}
	if taken {
		dst = diskpath.Join(archiveRoot, car.Folder+" "+now.Format(archiveSuffix))
	}
	if dst, err = diskpath.AssertValid(dst, diskpath.StageArchive); err != nil {
		return nil, classify(op, "archive path", err)
	}

	policy := retry.Policy{
		MaxAttempts: s.settings.ArchiveAttempts,
		BaseDelay:   s.settings.LockPoll,
		MaxDelay:    s.settings.LockWait,
		Retryable:   store.IsTransient,
		Sleep:       s.sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.logger.Warn("archive move failed, retrying", "src", car.Root, "dst", dst, "attempt", attempt, "delay", delay, "error", err)
		},
	}
	if err := policy.Do(ctx, func(ctx context.Context) error {
		return s.store.Move(ctx, car.Root, dst, false)
	}); err != nil {
		return nil, classify(op, fmt.Sprintf("moving %s to the archive", car.VIN), err)
	}

	// The folder has moved; from here on every step is attempted and
	// failures are reported together.
	var errs []error
	meta := s.archivedMetadata(ctx, car, dst)
	meta.Region = archive
	meta.Deleted = true
	meta.DeletedAt = now
	meta.DeletedBy = actor
	meta.ArchivedFrom = car.Region
	if err := s.writeDoc(ctx, diskpath.Join(dst, diskpath.CarMetadataFile), meta); err != nil {
		errs = append(errs, fmt.Errorf("writing archived metadata: %w", err))
	}

	err = s.withLock(ctx, regionRoot, op, func(*lock) error {
		idx, err := s.regionIndex(ctx, regionRoot)
		if err != nil {
			return err
		}
		if !idx.Remove(car.VIN) {
			return nil
		}
		idx.UpdatedAt = now
		return s.writeDoc(ctx, diskpath.Join(regionRoot, diskpath.RegionIndexFile), idx)
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("updating region index: %w", err))
	}

	s.cars.Remove(carKey(car.Region, car.VIN))
	s.syncCache("archive "+car.VIN, func(ctx context.Context) error {
		return s.cache.MarkDeleted(ctx, car.Region, car.VIN, now, actor)
	})

	archived := car
	archived.Region = archive
	archived.Folder = diskpath.Base(dst)
	archived.Root = dst
	archived.Deleted = true
	archived.DeletedAt = now
	archived.DeletedBy = actor

	if len(errs) > 0 {
		return &archived, classify(op, "car moved to the archive", errors.Join(errs...))
	}
	s.logger.Info("car archived", "vin", car.VIN, "from", car.Root, "to", dst, "actor", actor)
	return &archived, nil
}

// archivedMetadata reads the metadata that moved with the car, falling back
// to the indexed fields.
func (s *Service) archivedMetadata(ctx context.Context, car Car, root string) *index.CarMetadata {
	data, err := s.download(ctx, diskpath.Join(root, diskpath.CarMetadataFile))
	if err == nil && data != nil {
		if meta, vr := index.DecodeCarMetadata(data); vr.OK {
			return meta
		}
	}
	return &index.CarMetadata{
		Make:      car.Make,
		Model:     car.Model,
		VIN:       car.VIN,
		CreatedAt: car.CreatedAt,
		CreatedBy: car.CreatedBy,
	}
}
