package reconcile_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"carphoto/internal/diskpath"
	"carphoto/internal/index"
	"carphoto/internal/reconcile"
	"carphoto/internal/store"
	"carphoto/internal/testutil"
)

const (
	testVIN    = "JTMHV05J604123456"
	regionRoot = "/carphoto/R1"
	carRoot    = "/carphoto/R1/Toyota Camry " + testVIN
	slotPath   = carRoot + "/2. Secondary/Secondary 3"
)

type env struct {
	mem     *store.MemoryBackend
	counter *testutil.CountingBackend
	fault   *testutil.FaultBackend
	clock   *testutil.StubClock
	rec     *reconcile.Reconciler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := testutil.FixedClock()
	mem := store.NewMemoryBackend("")
	mem.SetNow(clock.Now)
	fault := testutil.NewFaultBackend(mem)
	counter := testutil.NewCountingBackend(fault)
	layout, err := diskpath.NewLayout("/carphoto", "ARCHIVE")
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	rec := reconcile.New(testutil.NewTestClient(counter), layout, clock, testutil.NewRecordingLogger(), nil)
	return &env{mem: mem, counter: counter, fault: fault, clock: clock, rec: rec}
}

func (e *env) putDoc(t *testing.T, path string, doc index.Document) {
	t.Helper()
	data, err := index.Encode(doc)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	e.mem.Put(path, data)
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

func hasFile(mem *store.MemoryBackend, path string) bool {
	for _, f := range mem.Files() {
		if f == path {
			return true
		}
	}
	return false
}

func TestParseDepth(t *testing.T) {
	tests := []struct {
		in      string
		want    reconcile.Depth
		wantErr bool
	}{
		{in: "slot", want: reconcile.DepthSlot},
		{in: " Car ", want: reconcile.DepthCar},
		{in: "REGION", want: reconcile.DepthRegion},
		{in: "tree", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := reconcile.ParseDepth(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDepth(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDepth(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReconciler_Slot(t *testing.T) {
	ctx := context.Background()

	t.Run("indexes the files on disk", func(t *testing.T) {
		e := newEnv(t)
		e.mem.Put(slotPath+"/b.jpg", []byte("bbbb"))
		e.mem.Put(slotPath+"/a.jpg", []byte("aa"))
		e.mem.Put(slotPath+"/.upload-1.tmp", []byte("partial"))

		idx, res, err := e.rec.Slot(ctx, slotPath)
		if err != nil {
			t.Fatalf("Slot() error = %v", err)
		}
		if idx.Count != 2 || idx.Cover != "a.jpg" || idx.TotalSize() != 6 || !idx.Used {
			t.Errorf("index = %+v", idx)
		}
		if res.Repaired != 1 {
			t.Errorf("Repaired = %d, want 1", res.Repaired)
		}

		stored := e.photoIndex(t, slotPath)
		if got := strings.Join(stored.Names(), ","); got != "a.jpg,b.jpg" {
			t.Errorf("stored names = %s", got)
		}
		if !hasFile(e.mem, slotPath+"/"+diskpath.SlotSummaryFile) {
			t.Error("slot summary not written")
		}
	})

	t.Run("second pass repairs nothing", func(t *testing.T) {
		e := newEnv(t)
		e.mem.Put(slotPath+"/a.jpg", []byte("aa"))

		if _, _, err := e.rec.Slot(ctx, slotPath); err != nil {
			t.Fatalf("first Slot() error = %v", err)
		}
		_, res, err := e.rec.Slot(ctx, slotPath)
		if err != nil {
			t.Fatalf("second Slot() error = %v", err)
		}
		if res.Repaired != 0 {
			t.Errorf("Repaired = %d, want 0", res.Repaired)
		}
	})

	t.Run("missing folder becomes an empty index", func(t *testing.T) {
		e := newEnv(t)

		idx, _, err := e.rec.Slot(ctx, slotPath)
		if err != nil {
			t.Fatalf("Slot() error = %v", err)
		}
		if idx.Count != 0 || idx.Used {
			t.Errorf("index = %+v", idx)
		}
		if e.photoIndex(t, slotPath).Count != 0 {
			t.Error("stored index not empty")
		}
	})

	t.Run("corrupted index is replaced", func(t *testing.T) {
		e := newEnv(t)
		e.mem.Put(slotPath+"/a.jpg", []byte("aa"))
		e.mem.Put(slotPath+"/"+diskpath.PhotoIndexFile, []byte(`{"version":1,"count":7`))

		_, res, err := e.rec.Slot(ctx, slotPath)
		if err != nil {
			t.Fatalf("Slot() error = %v", err)
		}
		if res.Repaired != 1 {
			t.Errorf("Repaired = %d, want 1", res.Repaired)
		}
		if !strings.Contains(strings.Join(res.Actions, "\n"), "discarded invalid") {
			t.Errorf("Actions = %v", res.Actions)
		}
		if e.photoIndex(t, slotPath).Count != 1 {
			t.Error("stored index does not match disk")
		}
	})

	t.Run("keeps the public url", func(t *testing.T) {
		e := newEnv(t)
		e.mem.Put(slotPath+"/a.jpg", []byte("aa"))
		prev := index.NewPhotoIndex(nil, e.clock.Now())
		prev.PublicURL = "https://disk.example/d/abc"
		e.putDoc(t, slotPath+"/"+diskpath.PhotoIndexFile, prev)

		idx, _, err := e.rec.Slot(ctx, slotPath)
		if err != nil {
			t.Fatalf("Slot() error = %v", err)
		}
		if idx.PublicURL != prev.PublicURL {
			t.Errorf("PublicURL = %q, want %q", idx.PublicURL, prev.PublicURL)
		}
	})

	t.Run("clears dirty marker and expired lock", func(t *testing.T) {
		e := newEnv(t)
		now := e.clock.Now()
		e.mem.Put(slotPath+"/a.jpg", []byte("aa"))
		e.putDoc(t, slotPath+"/"+diskpath.DirtyFile, &index.DirtyMarker{MarkedAt: now, Reason: "verify"})
		e.putDoc(t, slotPath+"/"+diskpath.LockFile, &index.LockMarker{
			Holder: "crashed", Operation: "upload",
			AcquiredAt: now.Add(-10 * time.Minute), ExpiresAt: now.Add(-8 * time.Minute),
		})

		_, res, err := e.rec.Slot(ctx, slotPath)
		if err != nil {
			t.Fatalf("Slot() error = %v", err)
		}
		if hasFile(e.mem, slotPath+"/"+diskpath.DirtyFile) {
			t.Error("dirty marker still present")
		}
		if hasFile(e.mem, slotPath+"/"+diskpath.LockFile) {
			t.Error("expired lock still present")
		}
		if len(res.Errors) != 0 {
			t.Errorf("Errors = %v", res.Errors)
		}
	})

	t.Run("leaves a live lock", func(t *testing.T) {
		e := newEnv(t)
		now := e.clock.Now()
		e.putDoc(t, slotPath+"/"+diskpath.LockFile, &index.LockMarker{
			Holder: "writer", Operation: "upload", AcquiredAt: now, ExpiresAt: now.Add(time.Minute),
		})

		if _, _, err := e.rec.Slot(ctx, slotPath); err != nil {
			t.Fatalf("Slot() error = %v", err)
		}
		if !hasFile(e.mem, slotPath+"/"+diskpath.LockFile) {
			t.Error("live lock removed")
		}
	})

	t.Run("keeps a lock replaced before removal", func(t *testing.T) {
		e := newEnv(t)
		now := e.clock.Now()
		lockPath := slotPath + "/" + diskpath.LockFile
		e.putDoc(t, lockPath, &index.LockMarker{
			Holder: "crashed", Operation: "upload",
			AcquiredAt: now.Add(-10 * time.Minute), ExpiresAt: now.Add(-8 * time.Minute),
		})
		live, err := index.Encode(&index.LockMarker{
			Holder: "writer-2", Operation: "upload", AcquiredAt: now, ExpiresAt: now.Add(time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
		reads := 0
		e.fault.OnCall(func(op, path string) {
			if op != testutil.OpDownload || path != lockPath {
				return
			}
			// Another writer steals the expired lock between the two reads.
			if reads++; reads == 2 {
				e.mem.Put(lockPath, live)
			}
		})

		if _, _, err := e.rec.Slot(ctx, slotPath); err != nil {
			t.Fatalf("Slot() error = %v", err)
		}
		data, err := e.mem.Download(ctx, lockPath)
		if err != nil {
			t.Fatalf("live lock removed: %v", err)
		}
		if marker, _ := index.DecodeLockMarker(data); marker == nil || marker.Holder != "writer-2" {
			t.Errorf("lock marker = %s, want writer-2", data)
		}
	})

	t.Run("caps an over-full slot at the limit", func(t *testing.T) {
		e := newEnv(t)
		for i := 1; i <= index.PhotoLimit+1; i++ {
			e.mem.Put(fmt.Sprintf("%s/photo-%02d.jpg", slotPath, i), []byte("x"))
		}

		idx, res, err := e.rec.Slot(ctx, slotPath)
		if err != nil {
			t.Fatalf("Slot() error = %v", err)
		}
		if idx.Count != index.PhotoLimit || idx.Has("photo-41.jpg") {
			t.Errorf("count = %d, has photo-41 = %v; want %d without photo-41", idx.Count, idx.Has("photo-41.jpg"), index.PhotoLimit)
		}
		if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "photo-41.jpg") {
			t.Errorf("Errors = %v, want the unindexed file reported", res.Errors)
		}

		data, err := e.mem.Download(ctx, slotPath+"/"+diskpath.PhotoIndexFile)
		if err != nil {
			t.Fatalf("downloading photo index: %v", err)
		}
		if vr := index.Validate(index.KindPhotos, data); !vr.OK {
			t.Errorf("rebuilt index invalid: %s", vr)
		}
		if !hasFile(e.mem, slotPath+"/photo-41.jpg") {
			t.Error("unindexed photo deleted")
		}
	})

	t.Run("one listing call", func(t *testing.T) {
		e := newEnv(t)
		e.mem.Put(slotPath+"/a.jpg", []byte("aa"))

		if _, _, err := e.rec.Slot(ctx, slotPath); err != nil {
			t.Fatalf("Slot() error = %v", err)
		}
		if n := e.counter.Count(testutil.OpList); n != 1 {
			t.Errorf("list calls = %d, want 1", n)
		}
	})

	t.Run("listing outage is an error", func(t *testing.T) {
		e := newEnv(t)
		e.fault.Fail(testutil.OpList, "Secondary 3", testutil.Unavailable(slotPath), 0)

		if _, _, err := e.rec.Slot(ctx, slotPath); err == nil {
			t.Fatal("Slot() expected error")
		}
		if hasFile(e.mem, slotPath+"/"+diskpath.PhotoIndexFile) {
			t.Error("index written despite failed listing")
		}
	})
}

func TestReconciler_Car(t *testing.T) {
	ctx := context.Background()

	t.Run("rebuilds metadata and every slot", func(t *testing.T) {
		e := newEnv(t)
		e.mem.Put(slotPath+"/a.jpg", []byte("aa"))

		meta, res, err := e.rec.Car(ctx, carRoot)
		if err != nil {
			t.Fatalf("Car() error = %v", err)
		}
		if meta.VIN != testVIN || meta.Make != "Toyota" || meta.Model != "Camry" || meta.Region != "R1" {
			t.Errorf("metadata = %+v", meta)
		}
		if meta.CreatedBy != reconcile.DefaultCreator || meta.Deleted {
			t.Errorf("metadata = %+v", meta)
		}

		indexes := 0
		for _, f := range e.mem.Files() {
			if strings.HasSuffix(f, "/"+diskpath.PhotoIndexFile) {
				indexes++
			}
		}
		if indexes != diskpath.SlotsPerCar {
			t.Errorf("photo indexes written = %d, want %d", indexes, diskpath.SlotsPerCar)
		}
		if e.photoIndex(t, slotPath).Count != 1 {
			t.Error("slot with a photo not indexed")
		}
		// metadata + 14 new slot indexes
		if res.Repaired != 1+diskpath.SlotsPerCar {
			t.Errorf("Repaired = %d, want %d", res.Repaired, 1+diskpath.SlotsPerCar)
		}
	})

	t.Run("keeps valid metadata", func(t *testing.T) {
		e := newEnv(t)
		e.putDoc(t, carRoot+"/"+diskpath.CarMetadataFile, &index.CarMetadata{
			Region: "R1", Make: "Toyota", Model: "Camry", VIN: testVIN,
			CreatedAt: e.clock.Now(), CreatedBy: "alice",
		})

		meta, _, err := e.rec.Car(ctx, carRoot)
		if err != nil {
			t.Fatalf("Car() error = %v", err)
		}
		if meta.CreatedBy != "alice" {
			t.Errorf("CreatedBy = %q, want alice", meta.CreatedBy)
		}
	})

	t.Run("prefers the make and model recorded in the region index", func(t *testing.T) {
		e := newEnv(t)
		root := regionRoot + "/De Tomaso Pantera " + testVIN
		e.mem.Put(root+"/1. Primary/Primary 1/front.jpg", []byte("x"))
		created := e.clock.Now().Add(-48 * time.Hour)
		e.putDoc(t, regionRoot+"/"+diskpath.RegionIndexFile, index.NewRegionIndex("R1", []index.CarSummary{{
			VIN: testVIN, Make: "De Tomaso", Model: "Pantera", Folder: "De Tomaso Pantera " + testVIN,
			CreatedAt: created, CreatedBy: "alice",
		}}, e.clock.Now()))

		meta, _, err := e.rec.Car(ctx, root)
		if err != nil {
			t.Fatalf("Car() error = %v", err)
		}
		if meta.Make != "De Tomaso" || meta.Model != "Pantera" || meta.CreatedBy != "alice" || !meta.CreatedAt.Equal(created) {
			t.Errorf("meta = %+v, want the recorded identity", meta)
		}
	})

	t.Run("archived car is marked deleted", func(t *testing.T) {
		e := newEnv(t)
		root := "/carphoto/ARCHIVE/Toyota Camry " + testVIN

		meta, _, err := e.rec.Car(ctx, root)
		if err != nil {
			t.Fatalf("Car() error = %v", err)
		}
		if !meta.Deleted {
			t.Error("car in archive region not marked deleted")
		}
	})

	t.Run("unparsable folder name", func(t *testing.T) {
		e := newEnv(t)
		if _, _, err := e.rec.Car(ctx, "/carphoto/R1/junk"); err == nil {
			t.Error("Car() expected error")
		}
	})

	t.Run("collects slot failures", func(t *testing.T) {
		e := newEnv(t)
		e.fault.Fail(testutil.OpList, "Filler 2", testutil.Unavailable("Filler 2"), 0)

		_, res, err := e.rec.Car(ctx, carRoot)
		if err == nil {
			t.Fatal("Car() expected error")
		}
		if len(res.Errors) != 1 {
			t.Errorf("Errors = %v, want one", res.Errors)
		}
		if !hasFile(e.mem, carRoot+"/3. Filler/Filler 5/"+diskpath.PhotoIndexFile) {
			t.Error("slots after the failure were not reconciled")
		}
	})
}

func TestReconciler_Region(t *testing.T) {
	ctx := context.Background()
	now := testutil.FixedClock().Now()

	e := newEnv(t)
	e.putDoc(t, regionRoot+"/Toyota Camry "+testVIN+"/"+diskpath.CarMetadataFile, &index.CarMetadata{
		Region: "R1", Make: "Toyota", Model: "Camry", VIN: testVIN, CreatedAt: now, CreatedBy: "alice",
	})
	e.putDoc(t, regionRoot+"/Lada Niva XTA21214011111111/"+diskpath.CarMetadataFile, &index.CarMetadata{
		Region: "R1", Make: "Lada", Model: "Niva", VIN: "XTA21214011111111", CreatedAt: now, CreatedBy: "bob",
		Deleted: true, DeletedAt: now,
	})
	e.mem.Put(regionRoot+"/BMW X5 WBAFB33598LM12345/1. Primary/Primary 1/a.jpg", []byte("x"))
	e.mem.Put(regionRoot+"/not a car/readme.txt", []byte("x"))
	e.mem.Put(regionRoot+"/"+diskpath.RegionIndexFile, []byte("garbage"))

	idx, res, err := e.rec.Region(ctx, regionRoot)
	if err != nil {
		t.Fatalf("Region() error = %v", err)
	}

	var vins []string
	for _, c := range idx.Cars {
		vins = append(vins, c.VIN)
	}
	if got := strings.Join(vins, ","); got != "WBAFB33598LM12345,"+testVIN {
		t.Errorf("cars = %s", got)
	}
	if idx.Region != "R1" {
		t.Errorf("Region = %q", idx.Region)
	}
	if len(res.Errors) != 2 {
		t.Errorf("Errors = %v, want two (metadata missing, unusable folder)", res.Errors)
	}
	if n := e.counter.Count(testutil.OpList); n != 1 {
		t.Errorf("list calls = %d, want exactly 1", n)
	}

	data, err := e.mem.Download(ctx, regionRoot+"/"+diskpath.RegionIndexFile)
	if err != nil {
		t.Fatalf("region index not written: %v", err)
	}
	if _, vr := index.DecodeRegionIndex(data); !vr.OK {
		t.Errorf("written region index invalid: %s", vr)
	}
}

func TestReconciler_RegionKeepsRecordedIdentity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	folder := "De Tomaso Pantera " + testVIN
	e.mem.Put(regionRoot+"/"+folder+"/1. Primary/Primary 1/a.jpg", []byte("x"))
	e.putDoc(t, regionRoot+"/"+diskpath.RegionIndexFile, index.NewRegionIndex("R1", []index.CarSummary{{
		VIN: testVIN, Make: "De Tomaso", Model: "Pantera", Folder: folder, CreatedBy: "alice",
	}}, e.clock.Now().Add(-time.Hour)))

	idx, _, err := e.rec.Region(ctx, regionRoot)
	if err != nil {
		t.Fatalf("Region() error = %v", err)
	}
	if len(idx.Cars) != 1 {
		t.Fatalf("cars = %+v, want 1", idx.Cars)
	}
	if c := idx.Cars[0]; c.Make != "De Tomaso" || c.Model != "Pantera" || c.CreatedBy != "alice" {
		t.Errorf("car = %+v, want the recorded identity", c)
	}
}

func TestReconciler_RegionMissing(t *testing.T) {
	e := newEnv(t)

	idx, _, err := e.rec.Region(context.Background(), "/carphoto/R9")
	if err != nil {
		t.Fatalf("Region() error = %v", err)
	}
	if len(idx.Cars) != 0 {
		t.Errorf("cars = %+v, want none", idx.Cars)
	}
}

func TestReconciler_Reconcile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	if _, err := e.rec.Reconcile(ctx, "/carphoto/../etc", reconcile.DepthSlot); err == nil {
		t.Error("Reconcile() accepted a traversal path")
	}
	if _, err := e.rec.Reconcile(ctx, slotPath, reconcile.Depth("tree")); err == nil {
		t.Error("Reconcile() accepted an unknown depth")
	}

	res, err := e.rec.Reconcile(ctx, " disk:"+slotPath, reconcile.DepthSlot)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Path != slotPath || res.Depth != reconcile.DepthSlot {
		t.Errorf("result = %+v", res)
	}
}
