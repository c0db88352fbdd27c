package carphoto

import (
	"context"

	"carphoto/internal/diskpath"
	"carphoto/internal/index"
)

// lock is a held lock marker. The marker file itself is the mutex: it is
// created with compare-and-create, so it works across processes that share
// nothing but the remote store.
type lock struct {
	path   string
	holder string
	op     string
}

// acquireLock places a lock marker in dir. A live marker held by someone
// else is waited on, polling every LockPoll, for at most LockWait; an
// expired or unreadable marker is stolen.
func (s *Service) acquireLock(ctx context.Context, dir, op string) (*lock, error) {
	l := &lock{path: diskpath.Join(dir, diskpath.LockFile), holder: s.idgen.New(), op: op}
	deadline := s.clock.Now().Add(s.settings.LockWait)
	stolen := false

	for {
		now := s.clock.Now()
		data, err := index.Encode(&index.LockMarker{
			Holder:     l.holder,
			Operation:  op,
			AcquiredAt: now.UTC(),
			ExpiresAt:  now.Add(s.settings.LockTTL).UTC(),
		})
		if err != nil {
			return nil, err
		}
		created, err := s.store.CreateIfAbsent(ctx, l.path, data, "application/json")
		if err != nil {
			return nil, classify(op, "acquiring lock", err)
		}

		// Backends with a two-step upload can let two creates both succeed;
		// the marker that is read back decides who holds the lock.
		current, err := s.readLock(ctx, l.path)
		if err != nil {
			return nil, classify(op, "reading lock", err)
		}
		if created {
			if current != nil && !current.invalid && current.marker.Holder == l.holder {
				s.metrics.RecordLock(true, stolen)
				s.logger.Debug("lock acquired", "path", l.path, "holder", l.holder, "op", op, "stolen", stolen)
				return l, nil
			}
			s.logger.Warn("lock marker replaced right after create", "path", l.path, "holder", l.holder, "op", op)
		}

		switch {
		case current == nil && now.Before(deadline):
			// Released between our attempt and the read; try again at once.
			continue
		case current == nil:
			return nil, newError(CodeConflict, op, "%s: lock could not be created", dir)
		case current.invalid || current.marker.Expired(now):
			if err := s.stealLock(ctx, l.path, current); err != nil {
				return nil, classify(op, "stealing expired lock", err)
			}
			stolen = true
			continue
		}

		if !now.Before(deadline) {
			s.metrics.RecordLock(false, false)
			return nil, newError(CodeConflict, op, "%s is locked by %s (%s) until %s",
				dir, current.marker.Holder, current.marker.Operation, current.marker.ExpiresAt.Format("15:04:05"))
		}
		if err := s.sleep(ctx, s.settings.LockPoll); err != nil {
			return nil, classify(op, "waiting for lock", err)
		}
	}
}

type lockState struct {
	marker  *index.LockMarker
	raw     []byte
	invalid bool
}

// readLock returns nil when there is no lock marker.
func (s *Service) readLock(ctx context.Context, path string) (*lockState, error) {
	data, err := s.download(ctx, path)
	if err != nil || data == nil {
		return nil, err
	}
	marker, vr := index.DecodeLockMarker(data)
	if !vr.OK {
		return &lockState{raw: data, invalid: true}, nil
	}
	return &lockState{marker: marker, raw: data}, nil
}

// stealLock removes a dead marker, but only if it is still the one that
// was judged dead.
func (s *Service) stealLock(ctx context.Context, path string, dead *lockState) error {
	again, err := s.readLock(ctx, path)
	if err != nil || again == nil {
		return err
	}
	if string(again.raw) != string(dead.raw) {
		return nil
	}
	holder := "unknown"
	if dead.marker != nil {
		holder = dead.marker.Holder
	}
	s.logger.Warn("stealing lock", "path", path, "holder", holder, "invalid", dead.invalid)
	return s.store.Delete(ctx, path)
}

// held reports whether l is still the live lock on its folder. A writer
// that outlived its TTL may have lost the lock.
func (s *Service) held(ctx context.Context, l *lock) bool {
	st, err := s.readLock(ctx, l.path)
	if err != nil || st == nil || st.invalid {
		return false
	}
	return st.marker.Holder == l.holder
}

// release removes the marker if l still holds it. It runs on every exit
// path of a locked section, so it logs instead of returning errors.
func (s *Service) release(ctx context.Context, l *lock) {
	if !s.held(ctx, l) {
		s.logger.Warn("lock lost before release", "path", l.path, "holder", l.holder, "op", l.op)
		return
	}
	if err := s.store.Delete(ctx, l.path); err != nil {
		s.logger.Error("releasing lock failed", "path", l.path, "holder", l.holder, "error", err)
		return
	}
	s.logger.Debug("lock released", "path", l.path, "holder", l.holder)
}

// withLock runs fn while holding the lock on dir.
func (s *Service) withLock(ctx context.Context, dir, op string, fn func(l *lock) error) error {
	l, err := s.acquireLock(ctx, dir, op)
	if err != nil {
		return err
	}
	defer s.release(context.WithoutCancel(ctx), l)
	return fn(l)
}
