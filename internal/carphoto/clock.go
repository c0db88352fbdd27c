package carphoto

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so TTL and lock decisions are
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

// sleeper is implemented by clocks that control waiting as well, such as
// test clocks that advance instead of blocking.
type sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
// IDs name lock holders and links.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if sl, ok := s.clock.(sleeper); ok {
		return sl.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
