package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedContact(t *testing.T, m *Memory, id string, at time.Time) {
	t.Helper()
	err := m.CreateContact(context.Background(), Contact{
		ID:        id,
		Phone:     "+1555000" + id,
		Status:    ContactStatusNew,
		CreatedAt: at,
		UpdatedAt: at,
	})
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
}

func TestAppendTurnRejectsDuplicateNumber(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	first := Turn{ID: "t1", CallID: "call-1", TurnNumber: 1, State: "greeting", CreatedAt: now}
	if err := m.AppendTurn(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}

	dup := Turn{ID: "t2", CallID: "call-1", TurnNumber: 1, State: "value_pitch", CreatedAt: now}
	if err := m.AppendTurn(ctx, dup); !errors.Is(err, ErrDuplicateTurn) {
		t.Fatalf("expected ErrDuplicateTurn, got %v", err)
	}

	turns, err := m.ListTurns(ctx, "call-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(turns) != 1 || turns[0].ID != "t1" {
		t.Fatalf("duplicate must not overwrite, got %+v", turns)
	}
}

func TestTryMarkDispatchedWindow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	seedContact(t, m, "c1", now)

	ok, err := m.TryMarkDispatched(ctx, "c1", now, 24*time.Hour)
	if err != nil || !ok {
		t.Fatalf("first dispatch should win: ok=%v err=%v", ok, err)
	}

	// A second dispatch inside the window loses without error.
	ok, err = m.TryMarkDispatched(ctx, "c1", now.Add(time.Minute), 24*time.Hour)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if ok {
		t.Fatalf("second dispatch inside window must lose")
	}

	// Past the window the contact becomes dialable again.
	ok, err = m.TryMarkDispatched(ctx, "c1", now.Add(25*time.Hour), 24*time.Hour)
	if err != nil || !ok {
		t.Fatalf("dispatch after window should win: ok=%v err=%v", ok, err)
	}
}

func TestCallTerminalStatusIsSticky(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	call := Call{ID: "call-1", ContactID: "c1", Direction: CallDirectionOutbound, Status: CallStatusInitiated, CreatedAt: now, UpdatedAt: now}
	if err := m.CreateCall(ctx, call); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.FinishCall(ctx, "call-1", CallStatusCompleted, "qualified", now.Add(time.Minute)); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// A late provider status event must not resurrect the call, but its
	// duration still lands.
	if err := m.UpdateCallProgress(ctx, "call-1", CallStatusInProgress, 95, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("progress: %v", err)
	}
	got, err := m.GetCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != CallStatusCompleted {
		t.Fatalf("terminal status moved to %q", got.Status)
	}
	if got.DurationSeconds != 95 {
		t.Fatalf("duration not backfilled, got %d", got.DurationSeconds)
	}

	// Finishing twice is a no-op, not an error.
	if err := m.FinishCall(ctx, "call-1", CallStatusFailed, "late", now.Add(3*time.Minute)); err != nil {
		t.Fatalf("second finish: %v", err)
	}
	got, _ = m.GetCall(ctx, "call-1")
	if got.Status != CallStatusCompleted || got.Outcome != "qualified" {
		t.Fatalf("second finish overwrote terminal state: %+v", got)
	}
}

func TestFinishCallRejectsLiveStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	if err := m.CreateCall(ctx, Call{ID: "call-1", ContactID: "c1", Status: CallStatusInitiated, CreatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.FinishCall(ctx, "call-1", CallStatusRinging, "", now); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSelectDialableDefaultsAndExplicitIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	seedContact(t, m, "a", base.Add(2*time.Second))
	seedContact(t, m, "b", base.Add(1*time.Second))
	seedContact(t, m, "c", base.Add(3*time.Second))
	if err := m.SetContactDNC(ctx, "c", true, base); err != nil {
		t.Fatalf("dnc: %v", err)
	}
	if err := m.SetContactStatus(ctx, "a", ContactStatusQualified, base); err != nil {
		t.Fatalf("status: %v", err)
	}

	// Default selection: status=new, not DNC, oldest first.
	got, err := m.SelectDialable(ctx, nil, 10)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("default selection wrong: %+v", got)
	}

	// Explicit ids keep contacted contacts but drop DNC and qualified.
	got, err = m.SelectDialable(ctx, []string{"a", "b", "c"}, 10)
	if err != nil {
		t.Fatalf("select ids: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("explicit selection wrong: %+v", got)
	}
}

func TestQualificationMergeLatchesBooleans(t *testing.T) {
	q := QualificationData{ContactID: "c1", Timeline: "30-90 days", NeedsVideo: true}
	tl := "0-30 days"
	f := false
	q.Merge(QualificationUpdate{Timeline: &tl, NeedsVideo: &f})
	if q.Timeline != "0-30 days" {
		t.Fatalf("scalar should overwrite, got %q", q.Timeline)
	}
	if !q.NeedsVideo {
		t.Fatalf("boolean signal must not un-latch")
	}
}
