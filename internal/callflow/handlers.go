package callflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/samiam2007/kc-media-leadgen/internal/dialogue"
	"github.com/samiam2007/kc-media-leadgen/internal/lead"
	"github.com/samiam2007/kc-media-leadgen/internal/store"
	"github.com/samiam2007/kc-media-leadgen/internal/telephony"
	"github.com/samiam2007/kc-media-leadgen/internal/voice"
)

const (
	voicemailMessage = "Hello, this is KC Media Team. We specialize in aerial photography for commercial real estate. Please call us back to learn how we can help your properties lease faster. Thank you!"
	apologyMessage   = "I apologize, but I'm having technical difficulties. We'll follow up with you directly. Thank you!"
	closingTagline   = "Have a great day!"
	optOutConfirm    = "You have been removed from our list. Reply START to resubscribe."
)

// Observer counts inbound calls and outbound messages. Satisfied by
// the metrics registry.
type Observer interface {
	ObserveCall(direction string)
	ObserveMessage(purpose string)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string)    {}
func (nopObserver) ObserveMessage(string) {}

// Handler owns the provider webhook surface. Every voice endpoint
// answers 200 with TwiML even on internal failure: a non-2xx or empty
// body leaves the callee in dead air.
type Handler struct {
	st        store.Store
	engine    *dialogue.Engine
	evaluator *lead.Evaluator
	synth     voice.Synthesizer
	provider  telephony.Provider
	rdb       *redis.Client

	// webhookBase is the public prefix for these routes, used to build
	// gather action URLs.
	webhookBase string

	log   *slog.Logger
	obs   Observer
	clock func() time.Time
}

func NewHandler(st store.Store, engine *dialogue.Engine, evaluator *lead.Evaluator, synth voice.Synthesizer, provider telephony.Provider, rdb *redis.Client, webhookBase string, log *slog.Logger) *Handler {
	return &Handler{
		st:          st,
		engine:      engine,
		evaluator:   evaluator,
		synth:       synth,
		provider:    provider,
		rdb:         rdb,
		webhookBase: webhookBase,
		log:         log,
		obs:         nopObserver{},
		clock:       time.Now,
	}
}

func (h *Handler) WithObserver(obs Observer) *Handler {
	h.obs = obs
	return h
}

func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

// Register mounts the webhook routes. They are unauthenticated by
// design; the provider cannot send a bearer token.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/webhooks/twilio")
	g.POST("/answer", h.handleAnswer)
	g.POST("/gather", h.handleGather)
	g.POST("/status", h.handleStatus)
	g.POST("/recording", h.handleRecording)
	g.POST("/sms", h.handleSMS)
	g.POST("/inbound", h.handleInbound)
	g.GET("/audio/:id", h.handleAudio)
}

func (h *Handler) gatherURL(callID string) string {
	return fmt.Sprintf("%s/gather?call_id=%s", h.webhookBase, callID)
}

func (h *Handler) renderXML(c *gin.Context, resp *telephony.Response) {
	xml, err := resp.Render()
	if err != nil {
		h.log.ErrorContext(c.Request.Context(), "twiml render failed", "error", err)
		c.String(http.StatusInternalServerError, "render error")
		return
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, xml)
}

// speakAndGather voices one agent line and listens for the reply.
// Synthesized audio is preferred; the carrier voice is the fallback.
func (h *Handler) speakAndGather(c *gin.Context, callID, text string) {
	ctx := c.Request.Context()
	audioURL, err := h.synth.SynthesizeURL(ctx, text)
	if err != nil {
		h.log.WarnContext(ctx, "synthesis error", "call_id", callID, "error", err)
		audioURL = ""
	}
	if audioURL != "" {
		if err := h.st.Calls.AddCallCost(ctx, callID, store.CallCosts{TTS: telephony.EstimateTTSCost(text)}, h.clock()); err != nil {
			h.log.WarnContext(ctx, "failed to record tts cost", "call_id", callID, "error", err)
		}
	}
	resp := telephony.NewResponse().
		GatherSpeech(h.gatherURL(callID), text, audioURL).
		Redirect(h.gatherURL(callID))
	h.renderXML(c, resp)
}

// terminate winds the call down with an audible line. The call record
// always leaves the live states here, never stuck in_progress.
func (h *Handler) terminate(c *gin.Context, callID, line string, status store.CallStatus, outcome string) {
	ctx := c.Request.Context()
	if err := h.st.Calls.FinishCall(ctx, callID, status, outcome, h.clock()); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.ErrorContext(ctx, "failed to finish call", "call_id", callID, "error", err)
	}
	h.renderXML(c, telephony.NewResponse().Say(line).Hangup())
}

func (h *Handler) handleAnswer(c *gin.Context) {
	ctx := c.Request.Context()
	callID := c.Query("call_id")
	if callID == "" {
		c.String(http.StatusBadRequest, "call_id required")
		return
	}
	form, err := telephony.ParseVoiceForm(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, "bad form")
		return
	}
	if _, err := h.st.Calls.GetCall(ctx, callID); err != nil {
		c.String(http.StatusNotFound, "unknown call")
		return
	}

	if form.IsMachine() {
		h.log.InfoContext(ctx, "machine answered, leaving voicemail", "call_id", callID, "answered_by", form.AnsweredBy)
		h.terminate(c, callID, voicemailMessage, store.CallStatusVoicemail, "machine_detected")
		return
	}

	if err := h.st.Calls.UpdateCallProgress(ctx, callID, store.CallStatusInProgress, 0, h.clock()); err != nil {
		h.log.ErrorContext(ctx, "failed to mark call in progress", "call_id", callID, "error", err)
	}

	res, err := h.engine.ProcessInput(ctx, callID, "")
	if err != nil {
		h.log.ErrorContext(ctx, "greeting generation failed", "call_id", callID, "error", err)
		h.terminate(c, callID, apologyMessage, store.CallStatusFailed, "greeting_error")
		return
	}
	h.speakAndGather(c, callID, res.Response)
}

func (h *Handler) handleGather(c *gin.Context) {
	ctx := c.Request.Context()
	callID := c.Query("call_id")
	if callID == "" {
		c.String(http.StatusBadRequest, "call_id required")
		return
	}
	form, err := telephony.ParseVoiceForm(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, "bad form")
		return
	}

	res, err := h.engine.ProcessInput(ctx, callID, form.SpeechResult)
	switch {
	case errors.Is(err, store.ErrDuplicateTurn):
		// Provider retry of a webhook we already handled: replay the
		// stored reply instead of advancing the conversation again.
		h.replayLastTurn(c, callID)
		return
	case errors.Is(err, store.ErrNotFound):
		c.String(http.StatusNotFound, "unknown call")
		return
	case err != nil:
		h.log.ErrorContext(ctx, "turn processing failed", "call_id", callID, "error", err)
		h.terminate(c, callID, apologyMessage, store.CallStatusFailed, "mid_call_error")
		return
	}

	h.applyQualification(ctx, callID, res.Update)

	if res.Action == "end_call" {
		resp := telephony.NewResponse().Say(res.Response).Pause(1).Say(closingTagline).Hangup()
		if err := h.st.Calls.FinishCall(ctx, callID, store.CallStatusCompleted, res.NextState, h.clock()); err != nil {
			h.log.ErrorContext(ctx, "failed to finish call", "call_id", callID, "error", err)
		}
		h.renderXML(c, resp)
		return
	}
	h.speakAndGather(c, callID, res.Response)
}

func (h *Handler) replayLastTurn(c *gin.Context, callID string) {
	ctx := c.Request.Context()
	turn, found, err := h.st.Turns.LastTurn(ctx, callID)
	if err != nil || !found {
		h.log.ErrorContext(ctx, "duplicate turn with no stored turn", "call_id", callID, "error", err)
		h.terminate(c, callID, apologyMessage, store.CallStatusFailed, "replay_error")
		return
	}
	if turn.State == dialogue.StateEnd {
		h.renderXML(c, telephony.NewResponse().Say(turn.BotResponse).Hangup())
		return
	}
	h.speakAndGather(c, callID, turn.BotResponse)
}

func (h *Handler) applyQualification(ctx context.Context, callID string, update store.QualificationUpdate) {
	if update.IsEmpty() {
		return
	}
	call, err := h.st.Calls.GetCall(ctx, callID)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to load call for qualification", "call_id", callID, "error", err)
		return
	}
	if _, err := h.evaluator.QualifyLead(ctx, call.ContactID, update); err != nil {
		// Qualification never breaks a live call.
		h.log.ErrorContext(ctx, "lead qualification failed", "call_id", callID, "contact_id", call.ContactID, "error", err)
	}
}

// providerStatus maps carrier lifecycle strings to call statuses.
func providerStatus(s string) (store.CallStatus, bool) {
	switch s {
	case "queued", "initiated":
		return store.CallStatusQueued, true
	case "ringing":
		return store.CallStatusRinging, true
	case "in-progress", "answered":
		return store.CallStatusInProgress, true
	case "completed":
		return store.CallStatusCompleted, true
	case "busy", "no-answer", "failed", "canceled":
		return store.CallStatusFailed, true
	default:
		return "", false
	}
}

func (h *Handler) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	callID := c.Query("call_id")
	form, err := telephony.ParseStatusForm(c.Request)
	if err != nil || callID == "" {
		c.String(http.StatusBadRequest, "bad form")
		return
	}
	mapped, ok := providerStatus(form.CallStatus)
	if !ok {
		h.log.WarnContext(ctx, "unknown provider status", "call_id", callID, "status", form.CallStatus)
		c.String(http.StatusOK, "OK")
		return
	}

	if mapped.IsTerminal() {
		// No-op when the gather flow already closed the call; still
		// records busy/no-answer terminations.
		if err := h.st.Calls.FinishCall(ctx, callID, mapped, form.CallStatus, h.clock()); err != nil && !errors.Is(err, store.ErrNotFound) {
			h.log.ErrorContext(ctx, "failed to finish call from status", "call_id", callID, "error", err)
		}
		if form.CallDuration > 0 {
			if err := h.st.Calls.AddCallCost(ctx, callID, store.CallCosts{Telephony: telephony.EstimateCallCost(form.CallDuration)}, h.clock()); err != nil {
				h.log.WarnContext(ctx, "failed to record call cost", "call_id", callID, "error", err)
			}
		}
	}
	if err := h.st.Calls.UpdateCallProgress(ctx, callID, mapped, form.CallDuration, h.clock()); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.ErrorContext(ctx, "failed to update call status", "call_id", callID, "error", err)
	}
	c.String(http.StatusOK, "OK")
}

func (h *Handler) handleRecording(c *gin.Context) {
	ctx := c.Request.Context()
	callID := c.Query("call_id")
	form, err := telephony.ParseRecordingForm(c.Request)
	if err != nil || callID == "" {
		c.String(http.StatusBadRequest, "bad form")
		return
	}
	if form.RecordingURL == "" {
		c.String(http.StatusOK, "OK")
		return
	}
	if err := h.st.Calls.SetCallRecording(ctx, callID, form.RecordingURL+".mp3", h.clock()); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.ErrorContext(ctx, "failed to store recording url", "call_id", callID, "error", err)
	}
	c.String(http.StatusOK, "OK")
}

func (h *Handler) handleSMS(c *gin.Context) {
	ctx := c.Request.Context()
	form, err := telephony.ParseSMSForm(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, "bad form")
		return
	}
	if !form.IsOptOut() {
		c.String(http.StatusOK, "OK")
		return
	}
	now := h.clock()

	if contact, found, err := h.st.Contacts.GetContactByPhone(ctx, form.From); err == nil && found {
		if err := h.st.Contacts.SetContactDNC(ctx, contact.ID, true, now); err != nil {
			h.log.ErrorContext(ctx, "failed to flag contact dnc", "contact_id", contact.ID, "error", err)
		}
	} else if err != nil {
		h.log.ErrorContext(ctx, "contact lookup failed", "phone", form.From, "error", err)
	}
	if err := h.st.DNC.AddDNCEntry(ctx, store.DNCEntry{Phone: form.From, Reason: "sms_opt_out", Source: "sms", CreatedAt: now}); err != nil {
		h.log.ErrorContext(ctx, "failed to add dnc entry", "phone", form.From, "error", err)
	}
	if _, err := h.provider.SendMessage(ctx, form.From, optOutConfirm); err != nil {
		h.log.WarnContext(ctx, "opt-out confirmation failed", "phone", form.From, "error", err)
	} else {
		h.obs.ObserveMessage("opt_out_confirm")
	}
	h.log.InfoContext(ctx, "sms opt-out processed", "phone", form.From)
	c.String(http.StatusOK, "OK")
}

// handleInbound takes a cold inbound call: resolve or create the
// contact, open a call record, and start the conversation in greeting.
func (h *Handler) handleInbound(c *gin.Context) {
	ctx := c.Request.Context()
	form, err := telephony.ParseVoiceForm(c.Request)
	if err != nil || form.From == "" {
		c.String(http.StatusBadRequest, "bad form")
		return
	}
	now := h.clock()

	contact, found, err := h.st.Contacts.GetContactByPhone(ctx, form.From)
	if err != nil {
		h.log.ErrorContext(ctx, "contact lookup failed", "phone", form.From, "error", err)
		h.renderXML(c, telephony.NewResponse().Say(apologyMessage).Hangup())
		return
	}
	if !found {
		contact = store.Contact{
			ID:        uuid.NewString(),
			Phone:     form.From,
			Status:    store.ContactStatusNew,
			Source:    "inbound_call",
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.st.Contacts.CreateContact(ctx, contact); err != nil {
			h.log.ErrorContext(ctx, "failed to create inbound contact", "phone", form.From, "error", err)
			h.renderXML(c, telephony.NewResponse().Say(apologyMessage).Hangup())
			return
		}
	}

	startAt := now
	call := store.Call{
		ID:          uuid.NewString(),
		ContactID:   contact.ID,
		Direction:   store.CallDirectionInbound,
		Status:      store.CallStatusInProgress,
		ExternalRef: form.CallSid,
		StartAt:     &startAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.st.Calls.CreateCall(ctx, call); err != nil {
		h.log.ErrorContext(ctx, "failed to create inbound call", "phone", form.From, "error", err)
		h.renderXML(c, telephony.NewResponse().Say(apologyMessage).Hangup())
		return
	}
	h.obs.ObserveCall(string(store.CallDirectionInbound))

	res, err := h.engine.ProcessInput(ctx, call.ID, "")
	if err != nil {
		h.log.ErrorContext(ctx, "inbound greeting failed", "call_id", call.ID, "error", err)
		h.terminate(c, call.ID, apologyMessage, store.CallStatusFailed, "greeting_error")
		return
	}
	h.speakAndGather(c, call.ID, res.Response)
}

// handleAudio serves synthesized clips cached for the carrier to
// fetch.
func (h *Handler) handleAudio(c *gin.Context) {
	if h.rdb == nil {
		c.String(http.StatusNotFound, "audio unavailable")
		return
	}
	b, found, err := voice.FetchAudio(c.Request.Context(), h.rdb, c.Param("id"))
	if err != nil {
		c.String(http.StatusInternalServerError, "audio fetch failed")
		return
	}
	if !found {
		c.String(http.StatusNotFound, "audio expired")
		return
	}
	c.Data(http.StatusOK, "audio/mpeg", b)
}
