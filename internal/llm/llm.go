package llm

import (
	"context"
)

// Classifier maps a caller utterance to one of the known intent labels.
// Implementations degrade to "unknown" on provider failure instead of
// returning an error; a misclassified turn still moves the conversation
// forward via the state's default transition.
type Classifier interface {
	ClassifyIntent(ctx context.Context, utterance string, state string) (string, error)
}

// Generator produces the next agent line. Unlike classification,
// generation failure is fatal for the turn; callers surface it so the
// call can be wound down gracefully.
type Generator interface {
	GenerateReply(ctx context.Context, in GenerateInput) (string, error)
}

// GenerateInput carries everything the reply prompt needs.
type GenerateInput struct {
	Persona     string
	State       string
	Intent      string
	Utterance   string
	ContactName string
	Company     string
	// History is the prior transcript, oldest first, formatted as
	// "caller: ..." / "agent: ..." lines.
	History []string
}
