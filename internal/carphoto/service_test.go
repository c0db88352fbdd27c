package carphoto_test

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"carphoto/internal/carphoto"
	"carphoto/internal/diskpath"
	"carphoto/internal/index"
	"carphoto/internal/metrics"
	"carphoto/internal/store"
	"carphoto/internal/testutil"
)

const (
	testVIN    = "JTMHV05J604123456"
	otherVIN   = "WBAFB33598LM12345"
	regionRoot = "/carphoto/R1"
	carRoot    = regionRoot + "/Toyota Camry " + testVIN
	slotPath   = carRoot + "/2. Secondary/Secondary 3"
)

var (
	jpegData = append([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), make([]byte, 64)...)
	pngData  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)
)

var secondary3 = carphoto.SlotTarget{Region: "R1", VIN: testVIN, Type: diskpath.SlotSecondary, Index: 3}

type env struct {
	mem      *store.MemoryBackend
	fault    *testutil.FaultBackend
	counter  *testutil.CountingBackend
	clock    *testutil.StubClock
	logger   *testutil.RecordingLogger
	cache    *memCache
	metrics  *metrics.Metrics
	settings carphoto.Settings
	svc      *carphoto.Service
}

func newEnv(t *testing.T, opts ...func(*carphoto.Settings)) *env {
	t.Helper()
	clock := testutil.FixedClock()
	return newEnvWithClock(t, clock, clock, opts...)
}

// newEnvWithClock builds an env whose service runs on svcClock while the
// memory store stamps files with the stub clock.
func newEnvWithClock(t *testing.T, stub *testutil.StubClock, svcClock carphoto.Clock, opts ...func(*carphoto.Settings)) *env {
	t.Helper()
	mem := store.NewMemoryBackend("")
	mem.SetNow(stub.Now)
	fault := testutil.NewFaultBackend(mem)
	counter := testutil.NewCountingBackend(fault)

	layout, err := diskpath.NewLayout("/carphoto", "ARCHIVE")
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	settings := carphoto.DefaultSettings(layout)
	for _, opt := range opts {
		opt(&settings)
	}

	e := &env{
		mem:      mem,
		fault:    fault,
		counter:  counter,
		clock:    stub,
		logger:   testutil.NewRecordingLogger(),
		cache:    newMemCache(),
		metrics:  metrics.New(prometheus.NewRegistry()),
		settings: settings,
	}
	e.svc = carphoto.NewService(testutil.NewTestClient(counter), e.cache, settings, e.logger, svcClock,
		testutil.NewStubIDGenerator(), e.metrics)
	return e
}

// createCar registers the Toyota used by most tests.
func (e *env) createCar(t *testing.T) *carphoto.Car {
	t.Helper()
	car, err := e.svc.CreateCar(context.Background(), carphoto.CreateCarRequest{
		Region: "R1",
		Make:   "Toyota",
		Model:  "Camry",
		VIN:    testVIN,
		Actor:  "tester",
	})
	if err != nil {
		t.Fatalf("CreateCar() error = %v", err)
	}
	return car
}

func (e *env) upload(t *testing.T, target carphoto.SlotTarget, names ...string) *carphoto.WriteResult {
	t.Helper()
	files := make([]carphoto.UploadFile, len(names))
	for i, n := range names {
		files[i] = carphoto.UploadFile{Name: n, Data: jpegData}
	}
	res, err := e.svc.UploadPhotos(context.Background(), carphoto.UploadRequest{Slot: target, Files: files, Actor: "tester"})
	if err != nil {
		t.Fatalf("UploadPhotos(%v) error = %v", names, err)
	}
	return res
}

func (e *env) putDoc(t *testing.T, path string, doc index.Document) {
	t.Helper()
	data, err := index.Encode(doc)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	e.mem.Put(path, data)
}

// seedPhotos writes n photos and a matching index straight into the store.
func (e *env) seedPhotos(t *testing.T, slot string, n int) {
	t.Helper()
	items := make([]index.PhotoItem, n)
	for i := range items {
		name := fmt.Sprintf("seed%02d.jpg", i+1)
		e.mem.Put(slot+"/"+name, jpegData)
		items[i] = index.PhotoItem{Name: name, Size: int64(len(jpegData)), Modified: e.clock.Now()}
	}
	e.putDoc(t, slot+"/"+diskpath.PhotoIndexFile, index.NewPhotoIndex(items, e.clock.Now()))
}

func (e *env) photoIndex(t *testing.T, slot string) *index.PhotoIndex {
	t.Helper()
	data, err := e.mem.Download(context.Background(), slot+"/"+diskpath.PhotoIndexFile)
	if err != nil {
		t.Fatalf("downloading photo index: %v", err)
	}
	doc, res := index.DecodePhotoIndex(data)
	if !res.OK {
		t.Fatalf("stored photo index invalid: %s", res)
	}
	return doc
}

func (e *env) listCalls(path string) int {
	n := 0
	for _, p := range e.counter.Paths(testutil.OpList) {
		if p == path {
			n++
		}
	}
	return n
}

func hasFile(mem *store.MemoryBackend, path string) bool {
	return slices.Contains(mem.Files(), path)
}

func wantCode(t *testing.T, err error, want carphoto.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want code %s", want)
	}
	if got := carphoto.CodeOf(err); got != want {
		t.Fatalf("CodeOf(%v) = %s, want %s", err, got, want)
	}
}

// memCache is an in-memory carphoto.Cache.
type memCache struct {
	mu      sync.Mutex
	regions map[string][]carphoto.Car
	slots   map[string][]carphoto.SlotStats
	links   map[string][]index.Link
	deleted map[string]string
}

func newMemCache() *memCache {
	return &memCache{
		regions: make(map[string][]carphoto.Car),
		slots:   make(map[string][]carphoto.SlotStats),
		links:   make(map[string][]index.Link),
		deleted: make(map[string]string),
	}
}

func (c *memCache) SyncRegion(_ context.Context, region string, cars []carphoto.Car) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regions[region] = slices.Clone(cars)
	return nil
}

func (c *memCache) RegionCars(_ context.Context, region string) ([]carphoto.Car, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.regions[region]), nil
}

func (c *memCache) SyncSlots(_ context.Context, region, vin string, slots []carphoto.SlotStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := region + "/" + vin
	for _, st := range slots {
		i := slices.IndexFunc(c.slots[key], func(o carphoto.SlotStats) bool { return o.Path == st.Path })
		if i >= 0 {
			c.slots[key][i] = st
		} else {
			c.slots[key] = append(c.slots[key], st)
		}
	}
	return nil
}

func (c *memCache) CarSlots(_ context.Context, region, vin string) ([]carphoto.SlotStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.slots[region+"/"+vin]), nil
}

func (c *memCache) SyncLinks(_ context.Context, region, vin string, links []index.Link) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links[region+"/"+vin] = slices.Clone(links)
	return nil
}

func (c *memCache) MarkDeleted(_ context.Context, region, vin string, _ time.Time, by string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted[region+"/"+vin] = by
	return nil
}

func (c *memCache) Close() error { return nil }

var _ carphoto.Cache = (*memCache)(nil)

func TestNewService_Defaults(t *testing.T) {
	layout, err := diskpath.NewLayout("/carphoto", "ARCHIVE")
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	settings := carphoto.DefaultSettings(layout)
	settings.LRUSize = 0
	settings.ArchiveAttempts = 0

	svc := carphoto.NewService(testutil.NewTestClient(store.NewMemoryBackend("")), nil, settings,
		carphoto.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator(), nil)
	got := svc.Settings()
	if got.LRUSize <= 0 {
		t.Errorf("LRUSize = %d, want a positive default", got.LRUSize)
	}
	if got.ArchiveAttempts != 1 {
		t.Errorf("ArchiveAttempts = %d, want 1", got.ArchiveAttempts)
	}
	if got.RegionTTL != 5*time.Minute {
		t.Errorf("RegionTTL = %v, want 5m", got.RegionTTL)
	}
}
