package telephony

import (
	"net/http"
	"strconv"
	"strings"
)

// Webhook form parsing. Twilio posts application/x-www-form-urlencoded;
// these structs capture the subset of fields the call flow uses.
// Business logic is not made here.

// VoiceForm covers answer and gather callbacks.
type VoiceForm struct {
	CallSid      string
	From         string
	To           string
	CallStatus   string
	AnsweredBy   string
	SpeechResult string
	Confidence   float64
	Direction    string
}

func ParseVoiceForm(r *http.Request) (VoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceForm{}, err
	}
	conf, _ := strconv.ParseFloat(r.PostFormValue("Confidence"), 64)
	return VoiceForm{
		CallSid:      r.PostFormValue("CallSid"),
		From:         normalizePhone(r.PostFormValue("From")),
		To:           normalizePhone(r.PostFormValue("To")),
		CallStatus:   r.PostFormValue("CallStatus"),
		AnsweredBy:   r.PostFormValue("AnsweredBy"),
		SpeechResult: r.PostFormValue("SpeechResult"),
		Confidence:   conf,
		Direction:    r.PostFormValue("Direction"),
	}, nil
}

// IsMachine reports whether machine detection flagged an answering
// machine or fax for this answer event.
func (f VoiceForm) IsMachine() bool {
	return strings.HasPrefix(f.AnsweredBy, "machine") || f.AnsweredBy == "fax"
}

// StatusForm covers call lifecycle callbacks.
type StatusForm struct {
	CallSid        string
	CallStatus     string
	CallDuration   int
	RecordingURL   string
	ErrorCode      string
	SequenceNumber int
}

func ParseStatusForm(r *http.Request) (StatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusForm{}, err
	}
	dur, _ := strconv.Atoi(r.PostFormValue("CallDuration"))
	seq, _ := strconv.Atoi(r.PostFormValue("SequenceNumber"))
	return StatusForm{
		CallSid:        r.PostFormValue("CallSid"),
		CallStatus:     r.PostFormValue("CallStatus"),
		CallDuration:   dur,
		RecordingURL:   r.PostFormValue("RecordingUrl"),
		ErrorCode:      r.PostFormValue("ErrorCode"),
		SequenceNumber: seq,
	}, nil
}

// RecordingForm covers recording status callbacks.
type RecordingForm struct {
	CallSid      string
	RecordingSid string
	RecordingURL string
}

func ParseRecordingForm(r *http.Request) (RecordingForm, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingForm{}, err
	}
	return RecordingForm{
		CallSid:      r.PostFormValue("CallSid"),
		RecordingSid: r.PostFormValue("RecordingSid"),
		RecordingURL: r.PostFormValue("RecordingUrl"),
	}, nil
}

// SMSForm covers inbound SMS callbacks.
type SMSForm struct {
	MessageSid string
	From       string
	To         string
	Body       string
}

func ParseSMSForm(r *http.Request) (SMSForm, error) {
	if err := r.ParseForm(); err != nil {
		return SMSForm{}, err
	}
	return SMSForm{
		MessageSid: r.PostFormValue("MessageSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Body:       r.PostFormValue("Body"),
	}, nil
}

// IsOptOut reports whether the message body is a standard SMS opt-out
// keyword.
func (f SMSForm) IsOptOut() bool {
	switch strings.ToUpper(strings.TrimSpace(f.Body)) {
	case "STOP", "STOPALL", "UNSUBSCRIBE", "CANCEL", "END", "QUIT":
		return true
	default:
		return false
	}
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}
