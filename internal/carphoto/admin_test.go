package carphoto_test

import (
	"context"
	"testing"

	"carphoto/internal/carphoto"
	"carphoto/internal/diskpath"
	"carphoto/internal/reconcile"
)

func TestService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("slot", func(t *testing.T) {
		e := newEnv(t)
		e.createCar(t)
		e.mem.Put(slotPath+"/a.jpg", jpegData)
		e.mem.Put(slotPath+"/b.jpg", jpegData)

		res, err := e.svc.Reconcile(ctx, carphoto.ReconcileRequest{
			Region: "R1", VIN: testVIN, SlotType: "secondary", SlotIndex: 3, Depth: "slot",
		})
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if res.Path != slotPath || res.Depth != reconcile.DepthSlot || res.Repaired == 0 {
			t.Errorf("result = %+v", res)
		}
		if got := e.photoIndex(t, slotPath); got.Count != 2 {
			t.Errorf("count = %d, want 2", got.Count)
		}
	})

	t.Run("car", func(t *testing.T) {
		e := newEnv(t)
		e.createCar(t)

		res, err := e.svc.Reconcile(ctx, carphoto.ReconcileRequest{Region: "R1", VIN: testVIN, Depth: "car"})
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if res.Path != carRoot {
			t.Errorf("path = %q, want %q", res.Path, carRoot)
		}
		for _, ref := range diskpath.AllSlotPaths(carRoot) {
			if !hasFile(e.mem, ref.Path+"/"+diskpath.PhotoIndexFile) {
				t.Errorf("%s has no index after car reconcile", ref.Path)
			}
		}
	})

	t.Run("region", func(t *testing.T) {
		e := newEnv(t)
		e.createCar(t)
		e.mem.Put(regionRoot+"/BMW X5 "+otherVIN+"/note.txt", []byte("x"))

		res, err := e.svc.Reconcile(ctx, carphoto.ReconcileRequest{Region: "r1", Depth: "region"})
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if res.Path != regionRoot {
			t.Errorf("path = %q, want %q", res.Path, regionRoot)
		}
		r, err := e.svc.GetRegion(ctx, "R1")
		if err != nil {
			t.Fatalf("GetRegion() error = %v", err)
		}
		if len(r.Cars) != 2 {
			t.Errorf("cars = %+v, want 2", r.Cars)
		}
	})

	t.Run("bad requests", func(t *testing.T) {
		e := newEnv(t)
		e.createCar(t)
		for _, req := range []carphoto.ReconcileRequest{
			{Region: "R1", VIN: testVIN, Depth: "tree"},
			{Region: "R1", VIN: testVIN, SlotType: "secondary", SlotIndex: 0, Depth: "slot"},
			{Region: "R1", VIN: "bad", Depth: "car"},
		} {
			_, err := e.svc.Reconcile(ctx, req)
			wantCode(t, err, carphoto.CodeInvalidInput)
		}
	})
}
