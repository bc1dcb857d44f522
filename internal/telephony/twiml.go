package telephony

import (
	"bytes"
	"encoding/xml"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Verbs         []any    `xml:",any"`
}

// Response accumulates TwiML verbs in order.
type Response struct {
	verbs []any
}

func NewResponse() *Response { return &Response{} }

func (r *Response) Say(text string) *Response {
	r.verbs = append(r.verbs, twimlSay{Text: text})
	return r
}

func (r *Response) Play(audioURL string) *Response {
	r.verbs = append(r.verbs, twimlPlay{URL: audioURL})
	return r
}

func (r *Response) Pause(seconds int) *Response {
	r.verbs = append(r.verbs, twimlPause{Length: seconds})
	return r
}

func (r *Response) Redirect(actionURL string) *Response {
	r.verbs = append(r.verbs, twimlRedirect{Method: "POST", URL: actionURL})
	return r
}

func (r *Response) Hangup() *Response {
	r.verbs = append(r.verbs, twimlHangup{})
	return r
}

// GatherSpeech prompts with text (or plays audioURL when non-empty)
// and posts the transcription to actionURL.
func (r *Response) GatherSpeech(actionURL, text, audioURL string) *Response {
	g := twimlGather{
		Input:         "speech",
		Action:        actionURL,
		Method:        "POST",
		SpeechTimeout: "auto",
	}
	if audioURL != "" {
		g.Verbs = append(g.Verbs, twimlPlay{URL: audioURL})
	} else if text != "" {
		g.Verbs = append(g.Verbs, twimlSay{Text: text})
	}
	r.verbs = append(r.verbs, g)
	return r
}

// Render serializes the response with the XML declaration Twilio expects.
func (r *Response) Render() (string, error) {
	doc := twimlResponse{Verbs: r.verbs}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
