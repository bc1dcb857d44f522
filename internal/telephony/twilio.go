package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// Twilio is a REST adapter over the calls and messages endpoints. It
// intentionally avoids any provider SDK dependency; the API surface we
// need is two form POSTs.
type Twilio struct {
	accountSID string
	authToken  string
	fromNumber string

	base string
	hc   *http.Client
}

func NewTwilio(accountSID, authToken, fromNumber string) *Twilio {
	return &Twilio{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		base:       twilioAPIBase,
		hc:         &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL points the adapter at a test server.
func (t *Twilio) WithBaseURL(base string) *Twilio {
	t.base = strings.TrimRight(base, "/")
	return t
}

type twilioCallResponse struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

func (t *Twilio) InitiateCall(ctx context.Context, req InitiateCallRequest) (InitiateCallResult, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", t.fromNumber)
	form.Set("Url", req.AnswerURL)
	form.Set("Method", "POST")
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", "POST")
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if req.MachineDetection {
		form.Set("MachineDetection", "DetectMessageEnd")
	}
	if req.Record {
		form.Set("Record", "true")
	}

	var out twilioCallResponse
	if err := t.post(ctx, "/Calls.json", form, &out); err != nil {
		return InitiateCallResult{}, fmt.Errorf("initiate call to %s: %w", req.To, err)
	}
	return InitiateCallResult{CallSID: out.Sid, Status: out.Status}, nil
}

func (t *Twilio) SendMessage(ctx context.Context, to, body string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.fromNumber)
	form.Set("Body", body)

	var out twilioCallResponse
	if err := t.post(ctx, "/Messages.json", form, &out); err != nil {
		return "", fmt.Errorf("send message to %s: %w", to, err)
	}
	return out.Sid, nil
}

func (t *Twilio) post(ctx context.Context, path string, form url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s%s", t.base, t.accountSID, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("twilio %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
