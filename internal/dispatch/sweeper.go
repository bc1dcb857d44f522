package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/samiam2007/kc-media-leadgen/internal/store"
)

// Sweeper closes calls stranded in a live status. A crashed webhook
// handler or a dropped status callback can leave a call in_progress
// forever; the sweeper fails it once it goes quiet for longer than any
// real conversation lasts.
type Sweeper struct {
	calls  store.CallRepo
	maxAge time.Duration
	log    *slog.Logger
	clock  func() time.Time
}

func NewSweeper(calls store.CallRepo, maxAge time.Duration, log *slog.Logger) *Sweeper {
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	return &Sweeper{calls: calls, maxAge: maxAge, log: log, clock: time.Now}
}

func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Sweep fails every live call that has not seen an update within
// maxAge. Returns how many calls it closed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	active, err := s.calls.ListActiveCalls(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock()
	cutoff := now.Add(-s.maxAge)

	closed := 0
	for _, call := range active {
		if call.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.calls.FinishCall(ctx, call.ID, store.CallStatusFailed, "stale", now); err != nil {
			s.log.ErrorContext(ctx, "failed to close stale call", "call_id", call.ID, "error", err)
			continue
		}
		s.log.WarnContext(ctx, "closed stale call", "call_id", call.ID, "status", call.Status, "updated_at", call.UpdatedAt)
		closed++
	}
	return closed, nil
}
