package carphoto

import (
	"context"

	"carphoto/internal/index"
)

// PublishSlot makes a slot folder public and records the link in the slot
// index. Publishing an already public slot returns the same link.
func (s *Service) PublishSlot(ctx context.Context, target SlotTarget, actor string) (string, error) {
	const op = "publish slot"
	car, ref, err := s.resolveSlot(ctx, op, target)
	if err != nil {
		return "", err
	}
	if err := s.store.EnsureFolder(ctx, ref.Path); err != nil {
		return "", classify(op, "creating slot folder", err)
	}
	link, err := s.store.Publish(ctx, ref.Path)
	if err != nil {
		return "", classify(op, "publishing slot", err)
	}

	idx, err := s.commitIndex(ctx, op, ref.Path, func(idx *index.PhotoIndex) error {
		idx.PublicURL = link
		return nil
	})
	if err != nil {
		return "", err
	}
	s.syncSlot(car, ref, idx)
	s.logger.Info("slot published", "path", ref.Path, "url", link, "actor", actor)
	return link, nil
}
