package telephony

import (
	"strings"
	"testing"
)

func TestRenderGatherSpeech(t *testing.T) {
	xml, err := NewResponse().GatherSpeech("/webhooks/twilio/gather?call_id=c1", "How are you today?", "").Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`input="speech"`,
		`action="/webhooks/twilio/gather?call_id=c1"`,
		`speechTimeout="auto"`,
		"<Say>How are you today?</Say>",
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
}

func TestRenderGatherPrefersAudio(t *testing.T) {
	xml, err := NewResponse().GatherSpeech("/a", "fallback text", "https://cdn.example.com/line.mp3").Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "<Play>https://cdn.example.com/line.mp3</Play>") {
		t.Fatalf("expected Play verb: %s", xml)
	}
	if strings.Contains(xml, "fallback text") {
		t.Fatalf("text must not render when audio is set: %s", xml)
	}
}

func TestRenderSayThenHangup(t *testing.T) {
	xml, err := NewResponse().Say("Thanks for your time.").Hangup().Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	sayIdx := strings.Index(xml, "<Say>")
	hangIdx := strings.Index(xml, "<Hangup>")
	if sayIdx < 0 || hangIdx < 0 || hangIdx < sayIdx {
		t.Fatalf("verbs missing or out of order: %s", xml)
	}
	if !strings.HasPrefix(xml, "<?xml") {
		t.Fatalf("expected xml declaration: %s", xml)
	}
}

func TestRenderEscapesText(t *testing.T) {
	xml, err := NewResponse().Say(`We offer "aerial" shots & more`).Render()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "&amp;") {
		t.Fatalf("ampersand not escaped: %s", xml)
	}
}

func TestEstimateCallCostRoundsUpMinutes(t *testing.T) {
	cases := []struct {
		seconds int
		want    float64
	}{
		{0, 0},
		{1, 0.0085},
		{60, 0.0085},
		{61, 0.017},
		{181, 0.034},
	}
	for _, tc := range cases {
		got := EstimateCallCost(tc.seconds)
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("%ds: cost %v, want %v", tc.seconds, got, tc.want)
		}
	}
}

func TestSMSFormOptOut(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{"STOP", true},
		{" stop ", true},
		{"Unsubscribe", true},
		{"stop calling me please", false},
		{"yes", false},
	}
	for _, tc := range cases {
		f := SMSForm{Body: tc.body}
		if got := f.IsOptOut(); got != tc.want {
			t.Fatalf("%q: opt-out %v, want %v", tc.body, got, tc.want)
		}
	}
}

func TestVoiceFormIsMachine(t *testing.T) {
	cases := []struct {
		answeredBy string
		want       bool
	}{
		{"human", false},
		{"machine_end_beep", true},
		{"machine_start", true},
		{"fax", true},
		{"", false},
	}
	for _, tc := range cases {
		f := VoiceForm{AnsweredBy: tc.answeredBy}
		if got := f.IsMachine(); got != tc.want {
			t.Fatalf("%q: machine %v, want %v", tc.answeredBy, got, tc.want)
		}
	}
}
