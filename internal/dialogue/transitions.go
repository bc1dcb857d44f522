package dialogue

import "fmt"

// Conversation states. A call always starts in greeting; end is
// terminal and has no outgoing transitions.
const (
	StateGreeting          = "greeting"
	StateValuePitch        = "value_pitch"
	StateQualify           = "qualify"
	StateObjectionHandling = "objection_handling"
	StateClose             = "close"
	StateEnd               = "end"
)

// intentDefault is the fallthrough row key. Unknown or misclassified
// intents take this edge so a bad classification can never wedge a call.
const intentDefault = "default"

// classifiedIntents is the fixed label set the classifier emits. Every
// non-terminal state must carry an explicit edge for each of them.
var classifiedIntents = []string{
	"interested", "not_interested", "objection", "question", "schedule",
	"callback", "not_decision_maker", "wrong_person", "request_info", "unknown",
}

// transitionTable maps state -> intent -> next state.
type transitionTable map[string]map[string]string

// row builds one state's edges: every classified intent starts on the
// fallthrough target, then the named overrides apply.
func row(fallthroughTo string, overrides map[string]string) map[string]string {
	r := map[string]string{intentDefault: fallthroughTo}
	for _, intent := range classifiedIntents {
		r[intent] = fallthroughTo
	}
	for intent, to := range overrides {
		r[intent] = to
	}
	return r
}

func defaultTransitions() transitionTable {
	return transitionTable{
		StateGreeting: row(StateValuePitch, map[string]string{
			"not_interested": StateObjectionHandling,
			"wrong_person":   StateEnd,
		}),
		StateValuePitch: row(StateQualify, map[string]string{
			"question":       StateValuePitch,
			"objection":      StateObjectionHandling,
			"not_interested": StateObjectionHandling,
		}),
		StateQualify: row(StateQualify, map[string]string{
			"schedule":           StateClose,
			"objection":          StateObjectionHandling,
			"not_decision_maker": StateClose,
		}),
		StateObjectionHandling: row(StateQualify, map[string]string{
			"schedule":       StateClose,
			"not_interested": StateEnd,
		}),
		StateClose: row(StateEnd, nil),
	}
}

// next resolves the transition. A state with no table entry (including
// end itself) resolves to end.
func (t transitionTable) next(state, intent string) string {
	row, ok := t[state]
	if !ok {
		return StateEnd
	}
	if to, ok := row[intent]; ok {
		return to
	}
	if to, ok := row[intentDefault]; ok {
		return to
	}
	return StateEnd
}

// validate is run at engine construction so a bad table edit fails at
// startup, not mid-call.
func (t transitionTable) validate() error {
	known := map[string]bool{
		StateGreeting: true, StateValuePitch: true, StateQualify: true,
		StateObjectionHandling: true, StateClose: true, StateEnd: true,
	}
	for state, row := range t {
		if !known[state] {
			return fmt.Errorf("transition from unknown state %q", state)
		}
		if state == StateEnd {
			return fmt.Errorf("end state must not have outgoing transitions")
		}
		if _, ok := row[intentDefault]; !ok {
			return fmt.Errorf("state %q has no default transition", state)
		}
		for _, intent := range classifiedIntents {
			if _, ok := row[intent]; !ok {
				return fmt.Errorf("state %q has no edge for intent %q", state, intent)
			}
		}
		for intent, to := range row {
			if !known[to] {
				return fmt.Errorf("state %q intent %q targets unknown state %q", state, intent, to)
			}
		}
	}
	return nil
}

// stateTurnBudgets are soft caps on consecutive turns spent in one
// state. Past the budget the generation prompt steers toward closing;
// the transition table itself is never overridden.
var stateTurnBudgets = map[string]int{
	StateGreeting:          1,
	StateValuePitch:        2,
	StateQualify:           4,
	StateObjectionHandling: 2,
	StateClose:             2,
}

// overTurnBudget reports whether spent turns exhaust the state's soft
// budget. States without a budget (end) are never over.
func overTurnBudget(state string, spent int) bool {
	budget, ok := stateTurnBudgets[state]
	return ok && spent >= budget
}

// closingNudge is appended to the objective once a state is over
// budget.
const closingNudge = " The conversation has lingered here; steer toward booking a meeting or politely wrapping up."

// stateObjectives guide reply generation per state.
var stateObjectives = map[string]string{
	StateGreeting:          "Introduce yourself, confirm you are speaking with the right person, and give a one-line value proposition.",
	StateValuePitch:        "Explain how aerial photo and video helps commercial listings lease faster.",
	StateQualify:           "Ask about current listings, timeline for media needs, and typical marketing budget. One question at a time.",
	StateObjectionHandling: "Address the concern empathetically and pivot back to value or an alternative.",
	StateClose:             "Offer two specific meeting times or a booking link.",
	StateEnd:               "Thank them for their time and mention they can opt out of future calls.",
}

// DetermineAction maps the resolved transition to the call-control
// action the webhook layer executes.
func DetermineAction(nextState, intent string) string {
	if nextState == StateClose && intent == "schedule" {
		return "book_meeting"
	}
	if nextState == StateEnd {
		return "end_call"
	}
	if nextState == StateQualify {
		return "continue_qualification"
	}
	return "continue"
}
