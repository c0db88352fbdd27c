package reconcile

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"carphoto/internal/diskpath"
	"carphoto/internal/index"
	"carphoto/internal/store"
)

type carProbe struct {
	summary index.CarSummary
	deleted bool
	problem string
	skip    bool
}

// Region lists a region root once, reads the metadata of every car folder
// in it and writes a fresh region index. Logically deleted cars are left
// out, except in the archive region where every car is deleted. A car whose
// metadata is missing or invalid is still listed when its folder name
// identifies it.
func (r *Reconciler) Region(ctx context.Context, regionRoot string) (*index.RegionIndex, *Result, error) {
	res := &Result{Path: regionRoot, Depth: DepthRegion}
	region := diskpath.Base(regionRoot)
	archive := region == r.layout.ArchiveRegion()

	entries, err := r.store.ListFolder(ctx, regionRoot)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, res, fmt.Errorf("reconciling region %s: %w", regionRoot, err)
	}

	var dirs []store.Entry
	for _, e := range entries {
		if e.IsDir && !diskpath.IsMetadataName(e.Name) {
			dirs = append(dirs, e)
		}
	}

	known := r.recordedCars(ctx, regionRoot)
	probes := make([]carProbe, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, dir := range dirs {
		g.Go(func() error {
			p, err := r.probeCar(gctx, region, dir, known)
			if err != nil {
				return err
			}
			probes[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, res, fmt.Errorf("reconciling region %s: %w", regionRoot, err)
	}

	seen := make(map[string]string)
	cars := make([]index.CarSummary, 0, len(probes))
	for _, p := range probes {
		if p.problem != "" {
			res.fail("%s", p.problem)
		}
		if p.skip || (p.deleted && !archive) {
			continue
		}
		if first, dup := seen[p.summary.VIN]; dup {
			res.fail("VIN %s appears in both %q and %q; keeping %q", p.summary.VIN, first, p.summary.Folder, first)
			continue
		}
		seen[p.summary.VIN] = p.summary.Folder
		cars = append(cars, p.summary)
	}

	idx := index.NewRegionIndex(region, cars, r.clock.Now())
	if err := r.writeDoc(ctx, diskpath.Join(regionRoot, diskpath.RegionIndexFile), idx); err != nil {
		return nil, res, fmt.Errorf("writing region index for %s: %w", regionRoot, err)
	}
	res.Repaired++
	res.action("wrote %s with %d cars", diskpath.RegionIndexFile, len(idx.Cars))

	r.finish(res)
	return idx, res, nil
}

// probeCar reads one car folder's metadata. Without usable metadata the
// car is listed from its folder name, keeping the make, model and creation
// fields the previous region index recorded for it. Only store failures
// other than a missing file are returned as errors.
func (r *Reconciler) probeCar(ctx context.Context, region string, dir store.Entry, known map[string]index.CarSummary) (carProbe, error) {
	data, err := r.download(ctx, diskpath.Join(dir.Path, diskpath.CarMetadataFile))
	if err != nil {
		return carProbe{}, fmt.Errorf("reading metadata of %s: %w", dir.Name, err)
	}

	if data != nil {
		meta, vr := index.DecodeCarMetadata(data)
		if vr.OK {
			return carProbe{
				summary: index.CarSummary{
					VIN:       meta.VIN,
					Make:      meta.Make,
					Model:     meta.Model,
					Folder:    dir.Name,
					CreatedAt: meta.CreatedAt,
					CreatedBy: meta.CreatedBy,
				},
				deleted: meta.Deleted,
			}, nil
		}
		r.logger.Warn("invalid car metadata", "region", region, "folder", dir.Name, "problems", vr.String())
	}

	carMake, model, vin, ok := diskpath.ParseCarFolderName(dir.Name)
	if !ok {
		return carProbe{skip: true, problem: fmt.Sprintf("folder %q has no usable car metadata", dir.Name)}, nil
	}
	summary := index.CarSummary{
		VIN:       vin,
		Make:      carMake,
		Model:     model,
		Folder:    dir.Name,
		CreatedAt: dir.Modified.UTC(),
	}
	if prev, ok := known[vin]; ok && prev.Make != "" {
		summary.Make, summary.Model, summary.CreatedBy = prev.Make, prev.Model, prev.CreatedBy
		if !prev.CreatedAt.IsZero() {
			summary.CreatedAt = prev.CreatedAt
		}
	}
	return carProbe{
		summary: summary,
		problem: fmt.Sprintf("folder %q: car metadata missing or invalid, listed from folder name", dir.Name),
	}, nil
}

// recordedCars returns the cars of the region index currently stored at
// regionRoot keyed by VIN, or nil when there is no usable index.
func (r *Reconciler) recordedCars(ctx context.Context, regionRoot string) map[string]index.CarSummary {
	data, err := r.download(ctx, diskpath.Join(regionRoot, diskpath.RegionIndexFile))
	if err != nil || data == nil {
		return nil
	}
	idx, vr := index.DecodeRegionIndex(data)
	if !vr.OK {
		return nil
	}
	cars := make(map[string]index.CarSummary, len(idx.Cars))
	for _, c := range idx.Cars {
		cars[c.VIN] = c
	}
	return cars
}
