package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/samiam2007/kc-media-leadgen/internal/llm"
	"github.com/samiam2007/kc-media-leadgen/internal/store"
)

type fakeClassifier struct {
	intent string
	err    error
}

func (f fakeClassifier) ClassifyIntent(context.Context, string, string) (string, error) {
	return f.intent, f.err
}

type fakeGenerator struct {
	reply string
	err   error
	last  llm.GenerateInput
}

func (f *fakeGenerator) GenerateReply(_ context.Context, in llm.GenerateInput) (string, error) {
	f.last = in
	return f.reply, f.err
}

func newTestEngine(t *testing.T, m *store.Memory, intent string) (*Engine, *fakeGenerator) {
	t.Helper()
	gen := &fakeGenerator{reply: "Sounds good, tell me more."}
	e, err := NewEngine(m.Repos(), fakeClassifier{intent: intent}, gen, slog.Default())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e.WithClock(func() time.Time { return time.Unix(1700000000, 0).UTC() }), gen
}

func seedCall(t *testing.T, m *store.Memory, priorStates ...string) string {
	t.Helper()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	if err := m.CreateContact(ctx, store.Contact{ID: "c1", Phone: "+15550001111", FullName: "Pat Doyle", Company: "Doyle CRE", Status: store.ContactStatusContacted, CreatedAt: now}); err != nil {
		t.Fatalf("contact: %v", err)
	}
	if err := m.CreateCall(ctx, store.Call{ID: "call-1", ContactID: "c1", Direction: store.CallDirectionOutbound, Status: store.CallStatusInProgress, CreatedAt: now}); err != nil {
		t.Fatalf("call: %v", err)
	}
	for i, st := range priorStates {
		err := m.AppendTurn(ctx, store.Turn{
			ID: "seed-" + st, CallID: "call-1", TurnNumber: i + 1, State: st,
			UserInput: "earlier", BotResponse: "earlier reply", Confidence: TurnConfidence, CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("seed turn: %v", err)
		}
	}
	return "call-1"
}

func TestProcessInputQualifyTurnExtractsAndScores(t *testing.T) {
	m := store.NewMemory()
	callID := seedCall(t, m, StateGreeting, StateValuePitch, StateQualify)
	e, _ := newTestEngine(t, m, "interested")

	input := "We have 6 listings that need aerial video next month, budget around $3,000, and I approve the marketing spend."
	res, err := e.ProcessInput(context.Background(), callID, input)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if res.NextState != StateQualify {
		t.Fatalf("next state = %q, want qualify", res.NextState)
	}
	if res.Action != "continue_qualification" {
		t.Fatalf("action = %q", res.Action)
	}
	if res.TurnNumber != 4 {
		t.Fatalf("turn number = %d, want 4", res.TurnNumber)
	}

	u := res.Update
	if u.PropertiesCount == nil || *u.PropertiesCount != 6 {
		t.Fatalf("properties count = %v", u.PropertiesCount)
	}
	if u.Timeline == nil || *u.Timeline != TimelineImmediate {
		t.Fatalf("timeline = %v", u.Timeline)
	}
	if u.BudgetRange == nil || *u.BudgetRange != BudgetMid {
		t.Fatalf("budget = %v", u.BudgetRange)
	}
	if u.NeedsVideo == nil || !*u.NeedsVideo {
		t.Fatalf("needs video not detected")
	}
	if u.DecisionMaker == nil || !*u.DecisionMaker {
		t.Fatalf("decision maker not detected")
	}

	var q store.QualificationData
	q.Merge(u)
	if score := CalculateLeadScore(q); score < 22 {
		t.Fatalf("score = %d, want >= 22", score)
	}
}

func TestProcessInputWrongPersonEndsCall(t *testing.T) {
	m := store.NewMemory()
	callID := seedCall(t, m, StateGreeting)
	e, _ := newTestEngine(t, m, "wrong_person")

	res, err := e.ProcessInput(context.Background(), callID, "I think you have the wrong number.")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.NextState != StateEnd {
		t.Fatalf("next state = %q, want end", res.NextState)
	}
	if res.Action != "end_call" {
		t.Fatalf("action = %q, want end_call", res.Action)
	}
	if !res.Update.IsEmpty() {
		t.Fatalf("end turn must not extract qualification data")
	}
}

func TestProcessInputScheduleFromQualifyBooksMeeting(t *testing.T) {
	m := store.NewMemory()
	callID := seedCall(t, m, StateGreeting, StateQualify)
	e, _ := newTestEngine(t, m, "schedule")

	res, err := e.ProcessInput(context.Background(), callID, "Sure, let's set up a time.")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.NextState != StateClose || res.Action != "book_meeting" {
		t.Fatalf("got state=%q action=%q, want close/book_meeting", res.NextState, res.Action)
	}
}

func TestProcessInputClassifierErrorFallsThroughDefault(t *testing.T) {
	m := store.NewMemory()
	callID := seedCall(t, m, StateGreeting)
	gen := &fakeGenerator{reply: "ok"}
	e, err := NewEngine(m.Repos(), fakeClassifier{err: errors.New("provider down")}, gen, slog.Default())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	res, err := e.ProcessInput(context.Background(), callID, "uh, maybe?")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	// greeting's default edge.
	if res.NextState != StateValuePitch {
		t.Fatalf("next state = %q, want value_pitch", res.NextState)
	}
}

func TestProcessInputEmptyFirstUtteranceStaysInGreeting(t *testing.T) {
	m := store.NewMemory()
	callID := seedCall(t, m)
	e, _ := newTestEngine(t, m, "interested")

	res, err := e.ProcessInput(context.Background(), callID, "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.NextState != StateGreeting || res.Intent != "" {
		t.Fatalf("expected silent open to stay in greeting, got %+v", res)
	}
	if res.TurnNumber != 1 || res.Action != "continue" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestProcessInputLingeringStateNudgesTowardClose(t *testing.T) {
	m := store.NewMemory()
	callID := seedCall(t, m, StateGreeting, StateQualify, StateQualify, StateQualify, StateQualify)
	e, gen := newTestEngine(t, m, "question")

	res, err := e.ProcessInput(context.Background(), callID, "what does a shoot involve?")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.NextState != StateQualify {
		t.Fatalf("next state = %q, want qualify", res.NextState)
	}
	if !strings.Contains(gen.last.Persona, closingNudge) {
		t.Fatalf("over-budget state must nudge the prompt toward closing: %q", gen.last.Persona)
	}
}

func TestProcessInputWithinBudgetHasNoNudge(t *testing.T) {
	m := store.NewMemory()
	callID := seedCall(t, m, StateGreeting, StateQualify)
	e, gen := newTestEngine(t, m, "question")

	if _, err := e.ProcessInput(context.Background(), callID, "how much is it?"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if strings.Contains(gen.last.Persona, closingNudge) {
		t.Fatalf("state within budget must not be nudged: %q", gen.last.Persona)
	}
}

func TestProcessInputGenerationFailurePersistsNothing(t *testing.T) {
	m := store.NewMemory()
	callID := seedCall(t, m, StateGreeting)
	gen := &fakeGenerator{err: errors.New("model timeout")}
	e, err := NewEngine(m.Repos(), fakeClassifier{intent: "interested"}, gen, slog.Default())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	if _, err := e.ProcessInput(context.Background(), callID, "tell me more"); err == nil {
		t.Fatalf("expected generation error to propagate")
	}
	turns, _ := m.ListTurns(context.Background(), callID)
	if len(turns) != 1 {
		t.Fatalf("failed turn must not be persisted, have %d turns", len(turns))
	}
}

func TestProcessInputUnknownCall(t *testing.T) {
	m := store.NewMemory()
	e, _ := newTestEngine(t, m, "interested")
	_, err := e.ProcessInput(context.Background(), "missing", "hello")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// racingTurns injects a concurrent insert of the same turn number
// between the engine's read and its append.
type racingTurns struct {
	store.TurnRepo
	raced bool
}

func (r *racingTurns) AppendTurn(ctx context.Context, t store.Turn) error {
	if !r.raced {
		r.raced = true
		rival := t
		rival.ID = "rival"
		if err := r.TurnRepo.AppendTurn(ctx, rival); err != nil {
			return err
		}
	}
	return r.TurnRepo.AppendTurn(ctx, t)
}

func TestProcessInputDuplicateTurnSurfaces(t *testing.T) {
	m := store.NewMemory()
	callID := seedCall(t, m, StateGreeting)

	st := m.Repos()
	st.Turns = &racingTurns{TurnRepo: m}
	gen := &fakeGenerator{reply: "ok"}
	e, err := NewEngine(st, fakeClassifier{intent: "interested"}, gen, slog.Default())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	if _, err := e.ProcessInput(context.Background(), callID, "go on"); !errors.Is(err, store.ErrDuplicateTurn) {
		t.Fatalf("expected ErrDuplicateTurn, got %v", err)
	}
}
