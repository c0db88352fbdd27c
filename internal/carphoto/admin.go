package carphoto

import (
	"context"

	"carphoto/internal/diskpath"
	"carphoto/internal/reconcile"
)

// Reconcile rebuilds index documents from folder listings at the requested
// depth. It is the manual counterpart of the self-healing done on reads.
func (s *Service) Reconcile(ctx context.Context, req ReconcileRequest) (*reconcile.Result, error) {
	const op = "reconcile"
	depth, err := reconcile.ParseDepth(req.Depth)
	if err != nil {
		return nil, &Error{Code: CodeInvalidInput, Op: op, Err: err}
	}

	var path string
	switch depth {
	case reconcile.DepthRegion:
		_, root, err := s.regionRoot(op, req.Region)
		if err != nil {
			return nil, err
		}
		path = root
	case reconcile.DepthCar:
		car, err := s.resolveCar(ctx, op, req.Region, req.VIN)
		if err != nil {
			return nil, err
		}
		path = car.Root
	default:
		_, ref, err := s.resolveSlot(ctx, op, SlotTarget{
			Region: req.Region,
			VIN:    req.VIN,
			Type:   diskpath.SlotType(req.SlotType),
			Index:  req.SlotIndex,
		})
		if err != nil {
			return nil, err
		}
		path = ref.Path
	}

	res, err := s.reconciler.Reconcile(ctx, path, depth)
	if depth != reconcile.DepthSlot {
		// Cars may have moved or changed; resolve them afresh.
		s.cars.Purge()
	}
	if err != nil {
		return res, classify(op, "reconciling "+path, err)
	}
	return res, nil
}
