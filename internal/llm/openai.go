package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Intent labels the classifier is allowed to emit. Anything else from
// the model collapses to "unknown".
var knownIntents = map[string]struct{}{
	"interested":         {},
	"not_interested":     {},
	"objection":          {},
	"question":           {},
	"schedule":           {},
	"callback":           {},
	"not_decision_maker": {},
	"wrong_person":       {},
	"request_info":       {},
	"unknown":            {},
}

const classifySystemPrompt = `You classify one utterance from a phone call into exactly one intent label.
Labels: interested, not_interested, objection, question, schedule, callback, not_decision_maker, wrong_person, request_info, unknown.
Reply with the label only, nothing else.`

// Observer receives one observation per provider round trip. Satisfied
// by the metrics registry.
type Observer interface {
	ObserveLLM(operation, status string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveLLM(string, string, time.Duration) {}

// OpenAI implements Classifier and Generator over the chat completions
// API. A cheaper model handles classification; generation uses the
// conversational model.
type OpenAI struct {
	client        openai.Client
	classifyModel string
	generateModel string
	log           *slog.Logger
	obs           Observer
}

func NewOpenAI(apiKey, classifyModel, generateModel string, log *slog.Logger) *OpenAI {
	return &OpenAI{
		client:        openai.NewClient(option.WithAPIKey(apiKey)),
		classifyModel: classifyModel,
		generateModel: generateModel,
		log:           log,
		obs:           nopObserver{},
	}
}

func (o *OpenAI) WithObserver(obs Observer) *OpenAI {
	o.obs = obs
	return o
}

// ClassifyIntent never returns a provider error to the caller: an
// unreachable or confused model yields "unknown" so the dialogue can
// fall through its default transition.
func (o *OpenAI) ClassifyIntent(ctx context.Context, utterance, state string) (string, error) {
	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.classifyModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(classifySystemPrompt),
			openai.UserMessage(fmt.Sprintf("Conversation stage: %s\nUtterance: %q", state, utterance)),
		},
		MaxTokens:   openai.Int(10),
		Temperature: openai.Float(0),
	})
	if err != nil {
		o.obs.ObserveLLM("classify", "error", time.Since(start))
		o.log.WarnContext(ctx, "intent classification failed, using unknown", "error", err)
		return "unknown", nil
	}
	o.obs.ObserveLLM("classify", "ok", time.Since(start))

	if len(resp.Choices) == 0 {
		return "unknown", nil
	}
	label := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	if _, ok := knownIntents[label]; !ok {
		o.log.WarnContext(ctx, "classifier emitted unknown label", "label", label)
		return "unknown", nil
	}
	return label, nil
}

// GenerateReply builds the next agent line. Errors propagate so the
// call flow can apologize and hang up instead of playing silence.
func (o *OpenAI) GenerateReply(ctx context.Context, in GenerateInput) (string, error) {
	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.generateModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(in.Persona),
			openai.UserMessage(buildReplyPrompt(in)),
		},
		MaxTokens:   openai.Int(150),
		Temperature: openai.Float(0.7),
	})
	if err != nil {
		o.obs.ObserveLLM("generate", "error", time.Since(start))
		return "", fmt.Errorf("generate reply: %w", err)
	}
	o.obs.ObserveLLM("generate", "ok", time.Since(start))

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate reply: empty completion")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("generate reply: blank completion")
	}
	return reply, nil
}

func buildReplyPrompt(in GenerateInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are on a live phone call. Stage: %s. Caller intent: %s.\n", in.State, in.Intent)
	if in.ContactName != "" {
		fmt.Fprintf(&b, "Caller name: %s.\n", in.ContactName)
	}
	if in.Company != "" {
		fmt.Fprintf(&b, "Company: %s.\n", in.Company)
	}
	if len(in.History) > 0 {
		b.WriteString("Transcript so far:\n")
		for _, line := range in.History {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "Caller just said: %q\n", in.Utterance)
	b.WriteString("Respond with the agent's next line only. Keep it under two sentences, natural and spoken.")
	return b.String()
}
