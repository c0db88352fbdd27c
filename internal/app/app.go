package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"carphoto/internal/carphoto"
	"carphoto/internal/config"
	"carphoto/internal/database"
	"carphoto/internal/diskpath"
	"carphoto/internal/index"
	"carphoto/internal/localfs"
	"carphoto/internal/metrics"
	"carphoto/internal/reconcile"
	"carphoto/internal/retry"
	"carphoto/internal/store"
)

// CarPhotoApp is the application layer between the CLI and the Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw strings and local paths, and releases resources on Close.
type CarPhotoApp struct {
	cfg      *config.Config
	client   *store.Client
	cache    carphoto.Cache
	service  *carphoto.Service
	registry *prometheus.Registry
	matcher  *localfs.IgnoreMatcher
	op       *Operation
	clock    carphoto.Clock
	logger   *slog.Logger
	logFile  io.Closer
	closed   bool
}

// Options overrides parts of the wiring. The zero value builds everything
// from config.
type Options struct {
	Backend store.Backend // replaces the configured disk backend
	Stderr  io.Writer     // log mirror; os.Stderr when nil
	Clock   carphoto.Clock
	IDs     carphoto.IDGenerator
}

// SettingsFromConfig translates the config sections the Service reads.
func SettingsFromConfig(cfg *config.Config) (carphoto.Settings, error) {
	layout, err := diskpath.NewLayout(cfg.Disk.BasePath, cfg.ArchiveRegion)
	if err != nil {
		return carphoto.Settings{}, fmt.Errorf("invalid disk layout: %w", err)
	}
	s := carphoto.DefaultSettings(layout)
	for _, r := range cfg.Regions {
		s.Regions = append(s.Regions, diskpath.NormalizeRegion(r))
	}
	s.RegionTTL = cfg.Cache.RegionTTL.Duration
	s.LRUSize = cfg.Cache.LRUSize
	s.LRUTTL = cfg.Cache.LRUTTL.Duration
	s.MaxFileSize = cfg.Write.MaxFileSize
	s.MaxBatchSize = cfg.Write.MaxBatchSize
	s.LockTTL = cfg.Write.LockTTL.Duration
	s.LockWait = cfg.Write.LockWait.Duration
	s.LockPoll = cfg.Write.LockPoll.Duration
	s.OneShotSlots = cfg.Write.OneShotSlots
	s.ArchiveAttempts = cfg.Write.ArchiveAttempts
	return s, nil
}

// NewCarPhotoApp creates a fully wired CarPhotoApp from the given config.
// operation names the CLI command being run (e.g. "PhotoUpload").
// The caller must call Close when done.
func NewCarPhotoApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*CarPhotoApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = carphoto.RealClock{}
	}
	ids := opts.IDs
	if ids == nil {
		ids = carphoto.UUIDGenerator{}
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	op := NewOperation(operation, cfg.Operator, clock.Now())
	logger, logFile, err := newLogger(cfg.LogDir, cfg.LogLevel, cfg.Logging, stderr, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	backend := opts.Backend
	if backend == nil {
		backend, err = store.NewBackendFromConfig(ctx, cfg.Disk)
		if err != nil {
			logFile.Close()
			return nil, fmt.Errorf("creating disk backend: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	client := store.NewClient(backend, store.Options{
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay.Duration,
			MaxDelay:    cfg.Retry.MaxDelay.Duration,
		},
		RateLimit: cfg.Disk.RateLimit,
		RateBurst: cfg.Disk.RateBurst,
		Metrics:   m,
		Logger:    log,
	})

	cache, err := database.NewCacheFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	svc := carphoto.NewService(client, cache, settings, log, clock, ids, m)
	logger.Debug("operation started", "operation", op.Name, "backend", cfg.Disk.Backend, "cache", cfg.Database.Type)

	return &CarPhotoApp{
		cfg:      cfg,
		client:   client,
		cache:    cache,
		service:  svc,
		registry: registry,
		matcher:  localfs.NewIgnoreMatcher(cfg.Upload.Ignore),
		op:       op,
		clock:    clock,
		logger:   logger,
		logFile:  logFile,
	}, nil
}

// Config returns the config the app was built from.
func (a *CarPhotoApp) Config() *config.Config { return a.cfg }

// Service returns the wired service.
func (a *CarPhotoApp) Service() *carphoto.Service { return a.service }

// Registry returns the metrics registry every component records into.
func (a *CarPhotoApp) Registry() *prometheus.Registry { return a.registry }

// Operation returns the operation this app was created for.
func (a *CarPhotoApp) Operation() *Operation { return a.op }

// ParseSlot builds a slot target from CLI arguments such as
// ("R1", "jtmhv05j604123456", "secondary", "3").
func ParseSlot(region, vin, slotType, slotIndex string) (carphoto.SlotTarget, error) {
	t, err := diskpath.ParseSlotType(slotType)
	if err != nil {
		return carphoto.SlotTarget{}, err
	}
	i, err := strconv.Atoi(slotIndex)
	if err != nil {
		return carphoto.SlotTarget{}, fmt.Errorf("invalid slot index %q", slotIndex)
	}
	if !t.ValidIndex(i) {
		return carphoto.SlotTarget{}, fmt.Errorf("%s slots are numbered 1 to %d, got %d", t, t.Count(), i)
	}
	return carphoto.SlotTarget{Region: region, VIN: vin, Type: t, Index: i}, nil
}

// ListRegion returns the cars of a region.
func (a *CarPhotoApp) ListRegion(ctx context.Context, region string) (*carphoto.Region, error) {
	r, err := a.service.GetRegion(ctx, region)
	return r, a.op.Fail(err)
}

// CreateCar registers a new car.
func (a *CarPhotoApp) CreateCar(ctx context.Context, region, carMake, model, vin string) (*carphoto.Car, error) {
	car, err := a.service.CreateCar(ctx, carphoto.CreateCarRequest{
		Region: region, Make: carMake, Model: model, VIN: vin, Actor: a.cfg.Operator,
	})
	return car, a.op.Fail(err)
}

// ShowCar returns a car with its slot catalog.
func (a *CarPhotoApp) ShowCar(ctx context.Context, region, vin string) (*carphoto.CarDetail, error) {
	car, err := a.service.GetCar(ctx, region, vin)
	return car, a.op.Fail(err)
}

// SlotCounts returns the statistics of every slot of a car.
func (a *CarPhotoApp) SlotCounts(ctx context.Context, region, vin string) ([]carphoto.SlotStats, error) {
	stats, err := a.service.GetSlotCounts(ctx, region, vin)
	return stats, a.op.Fail(err)
}

// ArchiveCar moves a car into the archive region.
func (a *CarPhotoApp) ArchiveCar(ctx context.Context, region, vin string) (*carphoto.Car, error) {
	car, err := a.service.ArchiveCar(ctx, region, vin, a.cfg.Operator)
	return car, a.op.Fail(err)
}

// ListPhotos returns the indexed photos of a slot.
func (a *CarPhotoApp) ListPhotos(ctx context.Context, target carphoto.SlotTarget) ([]index.PhotoItem, error) {
	items, err := a.service.ListPhotos(ctx, target)
	return items, a.op.Fail(err)
}

// UploadPaths collects photos from local paths and uploads them to a slot
// as one batch. When recursive is true, files in subdirectories are included.
func (a *CarPhotoApp) UploadPaths(ctx context.Context, target carphoto.SlotTarget, paths []string, recursive bool) (*carphoto.WriteResult, error) {
	files, err := localfs.Collect(paths, recursive, a.matcher)
	if err != nil {
		return nil, a.op.Fail(fmt.Errorf("collecting photos: %w", err))
	}
	if len(files) == 0 {
		return nil, a.op.Fail(errors.New("no photos found"))
	}
	a.logger.Info("uploading photos", "slot", string(target.Type)+" "+strconv.Itoa(target.Index), "files", len(files))
	res, err := a.service.UploadPhotos(ctx, carphoto.UploadRequest{Slot: target, Files: files, Actor: a.cfg.Operator})
	return res, a.op.Fail(err)
}

// DeletePhotos removes photos from a slot.
func (a *CarPhotoApp) DeletePhotos(ctx context.Context, target carphoto.SlotTarget, names []string) (*carphoto.WriteResult, error) {
	res, err := a.service.DeletePhotos(ctx, carphoto.DeleteRequest{Slot: target, Names: names, Actor: a.cfg.Operator})
	return res, a.op.Fail(err)
}

// RenamePhoto renames one photo inside a slot.
func (a *CarPhotoApp) RenamePhoto(ctx context.Context, target carphoto.SlotTarget, from, to string) (*carphoto.WriteResult, error) {
	res, err := a.service.RenamePhoto(ctx, carphoto.RenameRequest{Slot: target, From: from, To: to, Actor: a.cfg.Operator})
	return res, a.op.Fail(err)
}

// PublishSlot publishes a slot folder and returns its public URL.
func (a *CarPhotoApp) PublishSlot(ctx context.Context, target carphoto.SlotTarget) (string, error) {
	url, err := a.service.PublishSlot(ctx, target, a.cfg.Operator)
	return url, a.op.Fail(err)
}

// ListLinks returns the links of a car.
func (a *CarPhotoApp) ListLinks(ctx context.Context, region, vin string) ([]index.Link, error) {
	links, err := a.service.ListLinks(ctx, region, vin)
	return links, a.op.Fail(err)
}

// AddLink attaches a link to a car.
func (a *CarPhotoApp) AddLink(ctx context.Context, region, vin, label, url string) (*index.Link, error) {
	link, err := a.service.AddLink(ctx, carphoto.AddLinkRequest{
		Region: region, VIN: vin, Label: label, URL: url, Actor: a.cfg.Operator,
	})
	return link, a.op.Fail(err)
}

// DeleteLink removes a link from a car.
func (a *CarPhotoApp) DeleteLink(ctx context.Context, region, vin, id string) error {
	return a.op.Fail(a.service.DeleteLink(ctx, region, vin, id, a.cfg.Operator))
}

// Reconcile rebuilds indexes at the requested depth. target is only read
// for slot depth.
func (a *CarPhotoApp) Reconcile(ctx context.Context, depth string, target carphoto.SlotTarget) (*reconcile.Result, error) {
	res, err := a.service.Reconcile(ctx, carphoto.ReconcileRequest{
		Region:    target.Region,
		VIN:       target.VIN,
		SlotType:  target.Type,
		SlotIndex: target.Index,
		Depth:     depth,
	})
	return res, a.op.Fail(err)
}

// Close logs the operation outcome and releases the cache and log file.
// Calling Close again does nothing.
func (a *CarPhotoApp) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"status", a.op.Status,
		"duration", a.op.Duration(a.clock.Now()).Round(time.Millisecond).String(),
	)

	var errs []error
	if err := a.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing cache: %w", err))
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing log file: %w", err))
		}
	}
	return errors.Join(errs...)
}
