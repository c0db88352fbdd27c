// Package carphoto is the domain layer: it serves region, car and slot
// reads from the index documents on the remote store, and runs every write
// through preflight, data commit, lock-guarded index commit and verify.
package carphoto

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"carphoto/internal/diskpath"
	"carphoto/internal/index"
	"carphoto/internal/metrics"
	"carphoto/internal/reconcile"
	"carphoto/internal/store"
)

// Store is the remote store client the service runs on.
type Store interface {
	ListFolder(ctx context.Context, path string) ([]store.Entry, error)
	Stat(ctx context.Context, path string) (store.Entry, error)
	Exists(ctx context.Context, path string) (bool, error)
	EnsureFolder(ctx context.Context, path string) error
	UploadBytes(ctx context.Context, path string, data []byte, contentType string) error
	CreateIfAbsent(ctx context.Context, path string, data []byte, contentType string) (bool, error)
	DownloadFile(ctx context.Context, path string) ([]byte, error)
	Move(ctx context.Context, src, dst string, overwrite bool) error
	Publish(ctx context.Context, path string) (string, error)
	Delete(ctx context.Context, path string) error
}

var _ Store = (*store.Client)(nil)

// Settings are the tunables of the service, taken from configuration.
type Settings struct {
	Layout  diskpath.Layout
	Regions []string // allowed regions for new cars; empty allows any

	RegionTTL time.Duration

	MaxFileSize  int64
	MaxBatchSize int64

	LockTTL  time.Duration
	LockWait time.Duration
	LockPoll time.Duration

	// OneShotSlots rejects uploads to a slot that already has photos.
	OneShotSlots bool

	ArchiveAttempts int

	LRUSize int
	LRUTTL  time.Duration
}

// DefaultSettings returns the configuration defaults for layout.
func DefaultSettings(layout diskpath.Layout) Settings {
	return Settings{
		Layout:          layout,
		RegionTTL:       5 * time.Minute,
		MaxFileSize:     20 << 20,
		MaxBatchSize:    200 << 20,
		LockTTL:         2 * time.Minute,
		LockWait:        30 * time.Second,
		LockPoll:        500 * time.Millisecond,
		ArchiveAttempts: 3,
		LRUSize:         512,
		LRUTTL:          10 * time.Minute,
	}
}

// Service implements the read and write pipelines.
type Service struct {
	store      Store
	cache      Cache
	reconciler *reconcile.Reconciler
	settings   Settings
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	metrics    *metrics.Metrics

	flight singleflight.Group
	cars   *expirable.LRU[string, Car]
}

// NewService creates a Service. cache and m may be nil.
func NewService(st Store, cache Cache, settings Settings, logger Logger, clock Clock, idgen IDGenerator, m *metrics.Metrics) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	if settings.LRUSize <= 0 {
		settings.LRUSize = 512
	}
	if settings.ArchiveAttempts <= 0 {
		settings.ArchiveAttempts = 1
	}
	return &Service{
		store:      st,
		cache:      cache,
		reconciler: reconcile.New(st, settings.Layout, clock, logger, m),
		settings:   settings,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		metrics:    m,
		cars:       expirable.NewLRU[string, Car](settings.LRUSize, nil, settings.LRUTTL),
	}
}

// Settings returns the tunables the service runs with.
func (s *Service) Settings() Settings {
	return s.settings
}

func carKey(region, vin string) string {
	return region + "/" + vin
}

// download returns nil data, without error, for a missing file.
func (s *Service) download(ctx context.Context, path string) ([]byte, error) {
	data, err := s.store.DownloadFile(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (s *Service) writeDoc(ctx context.Context, path string, doc index.Document) error {
	data, err := index.Encode(doc)
	if err != nil {
		return err
	}
	return s.store.UploadBytes(ctx, path, data, "application/json")
}

// regionRoot normalizes a region name and returns it with its root path.
func (s *Service) regionRoot(op, region string) (string, string, error) {
	name := diskpath.NormalizeRegion(region)
	root, err := s.settings.Layout.RegionRoot(name)
	if err != nil {
		return "", "", classify(op, "region", err)
	}
	return name, root, nil
}

// resolveCar finds a live car by region and VIN, first in the in-process
// cache, then in the region index.
func (s *Service) resolveCar(ctx context.Context, op, region, vin string) (Car, error) {
	v, err := diskpath.NormalizeVIN(vin)
	if err != nil {
		return Car{}, &Error{Code: CodeInvalidInput, Op: op, Err: err}
	}
	name, _, err := s.regionRoot(op, region)
	if err != nil {
		return Car{}, err
	}
	if car, ok := s.cars.Get(carKey(name, v)); ok {
		return car, nil
	}

	r, err := s.GetRegion(ctx, name)
	if err != nil {
		return Car{}, err
	}
	for _, car := range r.Cars {
		if car.VIN == v {
			return car, nil
		}
	}
	return Car{}, newError(CodeNotFound, op, "car %s not found in region %s", v, name)
}

// resolveSlot validates a slot target and returns its catalog entry.
func (s *Service) resolveSlot(ctx context.Context, op string, t SlotTarget) (Car, diskpath.SlotRef, error) {
	typ, err := diskpath.ParseSlotType(string(t.Type))
	if err != nil {
		return Car{}, diskpath.SlotRef{}, &Error{Code: CodeInvalidInput, Op: op, Err: err}
	}
	if !typ.ValidIndex(t.Index) {
		return Car{}, diskpath.SlotRef{}, newError(CodeInvalidInput, op, "slot index %d out of range 1..%d for %s", t.Index, typ.Count(), typ)
	}
	car, err := s.resolveCar(ctx, op, t.Region, t.VIN)
	if err != nil {
		return Car{}, diskpath.SlotRef{}, err
	}
	p, err := diskpath.SlotPath(car.Root, typ, t.Index)
	if err != nil {
		return Car{}, diskpath.SlotRef{}, &Error{Code: CodeInvalidInput, Op: op, Err: err}
	}
	return car, diskpath.SlotRef{Type: typ, Index: t.Index, Path: p}, nil
}

func (s *Service) syncCache(what string, fn func(ctx context.Context) error) {
	// Cache failures are logged, never returned.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.logger.Warn("cache sync failed", "what", what, "error", err)
	}
}
