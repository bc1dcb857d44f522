package telephony

import "context"

// Provider is the outbound telephony boundary. Implementations are
// thin adapters; call-control decisions live in the webhook layer.
type Provider interface {
	// InitiateCall starts an outbound call. The provider fetches
	// AnswerURL for call instructions when the callee picks up and
	// posts lifecycle events to StatusCallbackURL.
	InitiateCall(ctx context.Context, req InitiateCallRequest) (InitiateCallResult, error)

	// SendMessage sends one SMS and returns the provider message id.
	SendMessage(ctx context.Context, to, body string) (string, error)
}

type InitiateCallRequest struct {
	To                string
	AnswerURL         string
	StatusCallbackURL string

	// MachineDetection asks the carrier to flag answering machines so
	// the answer webhook can leave a voicemail instead of running the
	// conversation loop.
	MachineDetection bool
	Record           bool
}

type InitiateCallResult struct {
	// CallSID is the provider's call identifier, stored as the call's
	// external ref.
	CallSID string
	Status  string
}
