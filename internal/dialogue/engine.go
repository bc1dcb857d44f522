package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samiam2007/kc-media-leadgen/internal/llm"
	"github.com/samiam2007/kc-media-leadgen/internal/store"
)

// TurnConfidence is recorded on every stored turn.
const TurnConfidence = 0.85

// fallbackPersona is used when a campaign has no script and no default
// script exists.
const fallbackPersona = "You are a professional sales development representative for an aerial photography and videography service targeting commercial real estate brokers. Keep responses under two sentences, sound natural, focus on value, and ask one question at a time."

// TurnResult is what one processed utterance produces.
type TurnResult struct {
	Response   string
	NextState  string
	Intent     string
	Action     string
	TurnNumber int
	Update     store.QualificationUpdate
}

// Observer counts processed turns. Satisfied by the metrics registry.
type Observer interface {
	ObserveTurn(state string)
}

type nopObserver struct{}

func (nopObserver) ObserveTurn(string) {}

// Engine advances one conversation per processed utterance: classify
// the intent, resolve the transition, generate the agent reply, and
// persist the turn.
type Engine struct {
	calls     store.CallRepo
	contacts  store.ContactRepo
	campaigns store.CampaignRepo
	scripts   store.ScriptRepo
	turns     store.TurnRepo

	classifier llm.Classifier
	generator  llm.Generator

	table transitionTable
	log   *slog.Logger
	obs   Observer
	clock func() time.Time
}

func NewEngine(st store.Store, classifier llm.Classifier, generator llm.Generator, log *slog.Logger) (*Engine, error) {
	table := defaultTransitions()
	if err := table.validate(); err != nil {
		return nil, fmt.Errorf("transition table: %w", err)
	}
	return &Engine{
		calls:      st.Calls,
		contacts:   st.Contacts,
		campaigns:  st.Campaigns,
		scripts:    st.Scripts,
		turns:      st.Turns,
		classifier: classifier,
		generator:  generator,
		table:      table,
		log:        log,
		obs:        nopObserver{},
		clock:      time.Now,
	}, nil
}

func (e *Engine) WithObserver(obs Observer) *Engine {
	e.obs = obs
	return e
}

func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// ProcessInput handles one caller utterance for the call. Returns
// store.ErrNotFound for an unknown call and store.ErrDuplicateTurn when
// this turn number was already persisted; reply generation failures
// propagate so the caller can wind the call down instead of playing
// silence.
func (e *Engine) ProcessInput(ctx context.Context, callID, userInput string) (TurnResult, error) {
	call, err := e.calls.GetCall(ctx, callID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load call %s: %w", callID, err)
	}
	contact, err := e.contacts.GetContact(ctx, call.ContactID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load contact %s: %w", call.ContactID, err)
	}
	persona, err := e.resolvePersona(ctx, call)
	if err != nil {
		return TurnResult{}, err
	}

	prior, err := e.turns.ListTurns(ctx, callID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load turns: %w", err)
	}
	currentState := StateGreeting
	if n := len(prior); n > 0 {
		currentState = prior[n-1].State
	}

	var intent, nextState string
	if len(prior) == 0 && strings.TrimSpace(userInput) == "" {
		// The very first gather often fires before the caller speaks.
		// Stay in greeting and open the conversation.
		nextState = StateGreeting
	} else {
		intent, err = e.classifier.ClassifyIntent(ctx, userInput, currentState)
		if err != nil {
			// Classifiers degrade to "unknown" themselves; treat an
			// error the same way.
			e.log.WarnContext(ctx, "classifier error, using unknown", "call_id", callID, "error", err)
			intent = "unknown"
		}
		nextState = e.table.next(currentState, intent)
	}

	objective := stateObjectives[nextState]
	if overTurnBudget(nextState, trailingTurnsIn(prior, nextState)) {
		objective += closingNudge
	}

	response, err := e.generator.GenerateReply(ctx, llm.GenerateInput{
		Persona:     persona + "\nObjective: " + objective,
		State:       nextState,
		Intent:      intent,
		Utterance:   userInput,
		ContactName: contact.FullName,
		Company:     contact.Company,
		History:     transcript(prior),
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("generate reply for call %s: %w", callID, err)
	}

	turn := store.Turn{
		ID:          uuid.NewString(),
		CallID:      callID,
		TurnNumber:  len(prior) + 1,
		State:       nextState,
		UserInput:   userInput,
		BotResponse: response,
		Confidence:  TurnConfidence,
		CreatedAt:   e.clock(),
	}
	if err := e.turns.AppendTurn(ctx, turn); err != nil {
		return TurnResult{}, err
	}
	e.obs.ObserveTurn(nextState)

	res := TurnResult{
		Response:   response,
		NextState:  nextState,
		Intent:     intent,
		Action:     DetermineAction(nextState, intent),
		TurnNumber: turn.TurnNumber,
	}
	if nextState == StateQualify {
		res.Update = ExtractQualification(userInput)
	}

	e.log.InfoContext(ctx, "turn processed",
		"call_id", callID, "turn", turn.TurnNumber, "state", nextState, "intent", intent, "action", res.Action)
	return res, nil
}

func (e *Engine) resolvePersona(ctx context.Context, call store.Call) (string, error) {
	scriptID := ""
	if call.CampaignID != "" {
		campaign, err := e.campaigns.GetCampaign(ctx, call.CampaignID)
		if err != nil {
			return "", fmt.Errorf("load campaign %s: %w", call.CampaignID, err)
		}
		scriptID = campaign.ScriptID
	}

	var (
		script store.Script
		err    error
	)
	if scriptID != "" {
		script, err = e.scripts.GetScript(ctx, scriptID)
	} else {
		script, err = e.scripts.GetDefaultScript(ctx)
	}
	if err != nil {
		if scriptID == "" {
			return fallbackPersona, nil
		}
		return "", fmt.Errorf("load script %s: %w", scriptID, err)
	}
	if script.Persona == "" {
		return fallbackPersona, nil
	}
	return script.Persona, nil
}

// trailingTurnsIn counts the unbroken run of most recent turns already
// spent in the given state.
func trailingTurnsIn(turns []store.Turn, state string) int {
	n := 0
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].State != state {
			break
		}
		n++
	}
	return n
}

func transcript(turns []store.Turn) []string {
	var lines []string
	for _, t := range turns {
		if t.UserInput != "" {
			lines = append(lines, "caller: "+t.UserInput)
		}
		lines = append(lines, "agent: "+t.BotResponse)
	}
	return lines
}
