package carphoto_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"carphoto/internal/carphoto"
	"carphoto/internal/diskpath"
	"carphoto/internal/metrics"
	"carphoto/internal/store"
	"carphoto/internal/testutil"
)

func TestService_SQLiteCache(t *testing.T) {
	ctx := context.Background()

	clock := testutil.FixedClock()
	mem := store.NewMemoryBackend("")
	mem.SetNow(clock.Now)
	fault := testutil.NewFaultBackend(mem)
	layout, err := diskpath.NewLayout("/carphoto", "ARCHIVE")
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	cache := testutil.NewTestCache(t)
	svc := carphoto.NewService(testutil.NewTestClient(fault), cache, carphoto.DefaultSettings(layout),
		carphoto.NewNopLogger(), clock, testutil.NewStubIDGenerator(), metrics.New(prometheus.NewRegistry()))

	if _, err := svc.CreateCar(ctx, carphoto.CreateCarRequest{Region: "R1", Make: "Toyota", Model: "Camry", VIN: testVIN, Actor: "tester"}); err != nil {
		t.Fatalf("CreateCar() error = %v", err)
	}
	if _, err := svc.UploadPhotos(ctx, carphoto.UploadRequest{
		Slot:  secondary3,
		Files: []carphoto.UploadFile{{Name: "a.jpg", Data: jpegData}},
	}); err != nil {
		t.Fatalf("UploadPhotos() error = %v", err)
	}
	if _, err := svc.GetSlotCounts(ctx, "R1", testVIN); err != nil {
		t.Fatalf("GetSlotCounts() error = %v", err)
	}

	slots, err := cache.CarSlots(ctx, "R1", testVIN)
	if err != nil {
		t.Fatalf("CarSlots() error = %v", err)
	}
	if len(slots) != diskpath.SlotsPerCar {
		t.Fatalf("cached slots = %d, want %d", len(slots), diskpath.SlotsPerCar)
	}
	for _, st := range slots {
		if st.Type == diskpath.SlotSecondary && st.Index == 3 && st.Count != 1 {
			t.Errorf("cached secondary 3 = %+v, want 1 photo", st)
		}
	}

	if _, err := svc.AddLink(ctx, carphoto.AddLinkRequest{Region: "R1", VIN: testVIN, Label: "Listing", URL: "https://example.com"}); err != nil {
		t.Fatalf("AddLink() error = %v", err)
	}
	if links, _ := cache.CarLinks(ctx, "R1", testVIN); len(links) != 1 {
		t.Errorf("cached links = %+v, want 1", links)
	}

	t.Run("serves the cached listing when the store is down", func(t *testing.T) {
		clock.Advance(6 * time.Minute)
		fault.Fail(testutil.OpList, regionRoot, testutil.Unavailable(regionRoot), 0)
		defer fault.Clear()

		r, err := svc.GetRegion(ctx, "R1")
		if err != nil {
			t.Fatalf("GetRegion() error = %v", err)
		}
		if !r.Stale || len(r.Cars) != 1 || r.Cars[0].Make != "Toyota" {
			t.Errorf("region = %+v, want the stale cached Toyota", r)
		}
	})

	t.Run("archive hides the cached car", func(t *testing.T) {
		if _, err := svc.ArchiveCar(ctx, "R1", testVIN, "manager"); err != nil {
			t.Fatalf("ArchiveCar() error = %v", err)
		}
		cars, err := cache.RegionCars(ctx, "R1")
		if err != nil {
			t.Fatalf("RegionCars() error = %v", err)
		}
		if len(cars) != 0 {
			t.Errorf("cached cars = %+v, want none", cars)
		}
	})
}
