package reconcile

import (
	"context"
	"errors"
	"fmt"

	"carphoto/internal/diskpath"
	"carphoto/internal/index"
)

// DefaultCreator is recorded as the creator of car metadata that had to be
// rebuilt from a folder name.
const DefaultCreator = "reconcile"

// Car validates the car metadata in carRoot, rebuilding it from the folder
// name when it is missing or invalid, then reconciles all 14 slots whether
// or not their folders exist. Slot failures are collected and returned
// together after every slot was attempted.
func (r *Reconciler) Car(ctx context.Context, carRoot string) (*index.CarMetadata, *Result, error) {
	res := &Result{Path: carRoot, Depth: DepthCar}

	meta, err := r.carMetadata(ctx, carRoot, res)
	if err != nil {
		return nil, res, err
	}

	var errs []error
	for _, slot := range diskpath.AllSlotPaths(carRoot) {
		_, slotRes, err := r.Slot(ctx, slot.Path)
		res.absorb(slotRes)
		if err != nil {
			res.fail("slot %s %d: %v", slot.Type, slot.Index, err)
			errs = append(errs, err)
		}
	}

	r.finish(res)
	if len(errs) > 0 {
		return meta, res, fmt.Errorf("reconciling car %s: %w", carRoot, errors.Join(errs...))
	}
	return meta, res, nil
}

func (r *Reconciler) carMetadata(ctx context.Context, carRoot string, res *Result) (*index.CarMetadata, error) {
	metaPath := diskpath.Join(carRoot, diskpath.CarMetadataFile)
	data, err := r.download(ctx, metaPath)
	if err != nil {
		return nil, fmt.Errorf("reading car metadata %s: %w", metaPath, err)
	}
	if data != nil {
		meta, vr := index.DecodeCarMetadata(data)
		if vr.OK {
			return meta, nil
		}
		res.action("discarded invalid %s: %s", diskpath.CarMetadataFile, vr)
		r.logger.Warn("invalid car metadata", "path", carRoot, "problems", vr.String())
	}

	meta, err := r.metadataFromFolder(ctx, carRoot)
	if err != nil {
		return nil, err
	}
	if err := r.writeDoc(ctx, metaPath, meta); err != nil {
		return nil, fmt.Errorf("writing car metadata %s: %w", metaPath, err)
	}
	res.Repaired++
	res.action("rebuilt %s from folder name", diskpath.CarMetadataFile)
	return meta, nil
}

// metadataFromFolder derives car metadata from a "{base}/{REGION}/{MAKE
// MODEL VIN}" path. Make, model and creation fields recorded in the region
// index win over the folder name. Cars found in the archive region are
// marked deleted.
func (r *Reconciler) metadataFromFolder(ctx context.Context, carRoot string) (*index.CarMetadata, error) {
	carMake, model, vin, ok := diskpath.ParseCarFolderName(diskpath.Base(carRoot))
	if !ok {
		return nil, fmt.Errorf("cannot derive car identity from folder %q", diskpath.Base(carRoot))
	}
	now := r.clock.Now().UTC()
	region := diskpath.Base(diskpath.Dir(carRoot))
	meta := &index.CarMetadata{
		Region:    region,
		Make:      carMake,
		Model:     model,
		VIN:       vin,
		CreatedAt: now,
		CreatedBy: DefaultCreator,
	}
	if prev, ok := r.recordedCars(ctx, diskpath.Dir(carRoot))[vin]; ok && prev.Make != "" {
		meta.Make, meta.Model = prev.Make, prev.Model
		if !prev.CreatedAt.IsZero() {
			meta.CreatedAt = prev.CreatedAt
		}
		if prev.CreatedBy != "" {
			meta.CreatedBy = prev.CreatedBy
		}
	}
	if region == r.layout.ArchiveRegion() {
		meta.Deleted = true
		meta.DeletedAt = now
		meta.DeletedBy = DefaultCreator
	}
	return meta, nil
}
