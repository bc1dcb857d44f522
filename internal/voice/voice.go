package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Synthesizer renders one agent line to audio. Best-effort: a failed
// synthesis returns an empty URL and the call falls back to carrier TTS.
type Synthesizer interface {
	// SynthesizeURL returns a public URL serving the rendered audio,
	// or "" when synthesis is unavailable.
	SynthesizeURL(ctx context.Context, text string) (string, error)
}

// Disabled is used when no TTS provider is configured.
type Disabled struct{}

func (Disabled) SynthesizeURL(context.Context, string) (string, error) { return "", nil }

const (
	elevenLabsAPIBase = "https://api.elevenlabs.io/v1"
	audioKeyPrefix    = "audio:"
	audioTTL          = 10 * time.Minute
)

// ElevenLabs synthesizes speech and parks the audio bytes in redis
// under a short-lived key; the webhook layer serves them back to the
// carrier on GET.
type ElevenLabs struct {
	apiKey  string
	voiceID string
	baseURL string
	// publicBase is the externally reachable prefix for audio URLs,
	// e.g. https://app.example.com/webhooks/twilio/audio.
	publicBase string

	rdb *redis.Client
	hc  *http.Client
	log *slog.Logger
}

func NewElevenLabs(apiKey, voiceID, publicBase string, rdb *redis.Client, log *slog.Logger) *ElevenLabs {
	return &ElevenLabs{
		apiKey:     apiKey,
		voiceID:    voiceID,
		baseURL:    elevenLabsAPIBase,
		publicBase: strings.TrimRight(publicBase, "/"),
		rdb:        rdb,
		hc:         &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// WithBaseURL points the adapter at a test server.
func (e *ElevenLabs) WithBaseURL(base string) *ElevenLabs {
	e.baseURL = strings.TrimRight(base, "/")
	return e
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (e *ElevenLabs) SynthesizeURL(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(ttsRequest{
		Text:          text,
		ModelID:       "eleven_monolingual_v1",
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.hc.Do(req)
	if err != nil {
		e.log.WarnContext(ctx, "tts request failed, falling back to carrier voice", "error", err)
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		e.log.WarnContext(ctx, "tts provider error, falling back to carrier voice", "status", resp.StatusCode)
		return "", nil
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil || len(audio) == 0 {
		e.log.WarnContext(ctx, "tts audio read failed", "error", err)
		return "", nil
	}

	id := uuid.NewString()
	if err := e.rdb.Set(ctx, audioKeyPrefix+id, audio, audioTTL).Err(); err != nil {
		e.log.WarnContext(ctx, "failed to cache tts audio", "error", err)
		return "", nil
	}
	return e.publicBase + "/" + id, nil
}

// FetchAudio returns cached audio bytes for serving back to the
// carrier, or false when the clip expired.
func FetchAudio(ctx context.Context, rdb *redis.Client, id string) ([]byte, bool, error) {
	b, err := rdb.Get(ctx, audioKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}
