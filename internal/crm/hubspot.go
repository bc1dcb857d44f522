package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samiam2007/kc-media-leadgen/internal/store"
)

// Syncer pushes qualified leads to the CRM. Best-effort from the lead
// pipeline's point of view: sync failures are logged, never fatal.
type Syncer interface {
	SyncQualifiedLead(ctx context.Context, contact store.Contact, qual store.QualificationData) error

	// EnrollNurture adds the contact to the nurture workflow.
	EnrollNurture(ctx context.Context, contact store.Contact) error
}

// Disabled is used when no CRM is configured.
type Disabled struct{}

func (Disabled) SyncQualifiedLead(context.Context, store.Contact, store.QualificationData) error {
	return nil
}
func (Disabled) EnrollNurture(context.Context, store.Contact) error { return nil }

const hubspotAPIBase = "https://api.hubapi.com"

// HubSpot talks to the v3 contacts API with a private app token.
type HubSpot struct {
	token             string
	nurtureWorkflowID string
	baseURL           string
	hc                *http.Client
	log               *slog.Logger
}

func NewHubSpot(token, nurtureWorkflowID string, log *slog.Logger) *HubSpot {
	return &HubSpot{
		token:             token,
		nurtureWorkflowID: nurtureWorkflowID,
		baseURL:           hubspotAPIBase,
		hc:                &http.Client{Timeout: 10 * time.Second},
		log:               log,
	}
}

// WithBaseURL points the adapter at a test server.
func (h *HubSpot) WithBaseURL(base string) *HubSpot {
	h.baseURL = strings.TrimRight(base, "/")
	return h
}

type contactProperties struct {
	Email           string `json:"email,omitempty"`
	FirstName       string `json:"firstname,omitempty"`
	LastName        string `json:"lastname,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Company         string `json:"company,omitempty"`
	LeadScore       string `json:"lead_score,omitempty"`
	Timeline        string `json:"media_timeline,omitempty"`
	BudgetRange     string `json:"media_budget_range,omitempty"`
	PropertiesCount string `json:"listing_count,omitempty"`
	LifecycleStage  string `json:"lifecyclestage,omitempty"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Limit        int           `json:"limit"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchResponse struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

type createResponse struct {
	ID string `json:"id"`
}

// SyncQualifiedLead upserts the contact keyed on phone number. An
// existing record is patched; otherwise a new one is created.
func (h *HubSpot) SyncQualifiedLead(ctx context.Context, contact store.Contact, qual store.QualificationData) error {
	props := contactProperties{
		Email:          contact.Email,
		Phone:          contact.Phone,
		Company:        contact.Company,
		LeadScore:      strconv.Itoa(qual.Score),
		Timeline:       qual.Timeline,
		BudgetRange:    qual.BudgetRange,
		LifecycleStage: "salesqualifiedlead",
	}
	if qual.PropertiesCount > 0 {
		props.PropertiesCount = strconv.Itoa(qual.PropertiesCount)
	}
	if first, last, ok := splitName(contact.FullName); ok {
		props.FirstName, props.LastName = first, last
	}

	existingID, err := h.findByPhone(ctx, contact.Phone)
	if err != nil {
		return err
	}

	body := map[string]any{"properties": props}
	crmID := existingID
	if existingID != "" {
		if err := h.request(ctx, http.MethodPatch, "/crm/v3/objects/contacts/"+existingID, body, nil); err != nil {
			return err
		}
	} else {
		var created createResponse
		if err := h.request(ctx, http.MethodPost, "/crm/v3/objects/contacts", body, &created); err != nil {
			return err
		}
		crmID = created.ID
		h.log.InfoContext(ctx, "crm contact created", "contact_id", contact.ID, "crm_id", created.ID)
	}

	if err := h.createDeal(ctx, crmID, contact, qual); err != nil {
		// The contact record is the thing that must not be lost; a
		// deal can be opened by hand from it.
		h.log.WarnContext(ctx, "crm deal creation failed", "contact_id", contact.ID, "error", err)
	}
	return nil
}

// createDeal opens a deal against the CRM contact so qualified leads
// land in the sales pipeline, not just the contact list.
func (h *HubSpot) createDeal(ctx context.Context, crmContactID string, contact store.Contact, qual store.QualificationData) error {
	name := "Aerial media package"
	if contact.Company != "" {
		name = contact.Company + " aerial media package"
	}
	body := map[string]any{
		"properties": map[string]string{
			"dealname":  name,
			"dealstage": "appointmentscheduled",
			"amount":    dealAmount(qual.BudgetRange),
		},
		"associations": []map[string]any{{
			"to": map[string]string{"id": crmContactID},
			"types": []map[string]any{{
				"associationCategory": "HUBSPOT_DEFINED",
				"associationTypeId":   3,
			}},
		}},
	}
	return h.request(ctx, http.MethodPost, "/crm/v3/objects/deals", body, nil)
}

// dealAmount maps the qualified budget band to a conservative opening
// amount. Unknown bands leave the amount blank for the rep to fill in.
func dealAmount(budgetRange string) string {
	switch budgetRange {
	case "$5,000+":
		return "5000"
	case "$2,000-$5,000":
		return "2000"
	case "$500-$2,000":
		return "500"
	default:
		return ""
	}
}

// EnrollNurture adds the contact to the configured nurture workflow by
// email. A missing workflow id or email makes this a no-op.
func (h *HubSpot) EnrollNurture(ctx context.Context, contact store.Contact) error {
	if h.nurtureWorkflowID == "" || contact.Email == "" {
		return nil
	}
	path := fmt.Sprintf("/automation/v2/workflows/%s/enrollments/contacts/%s", h.nurtureWorkflowID, contact.Email)
	return h.request(ctx, http.MethodPost, path, map[string]any{}, nil)
}

func (h *HubSpot) findByPhone(ctx context.Context, phone string) (string, error) {
	req := searchRequest{
		FilterGroups: []filterGroup{{Filters: []filter{{PropertyName: "phone", Operator: "EQ", Value: phone}}}},
		Limit:        1,
	}
	var resp searchResponse
	if err := h.request(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", req, &resp); err != nil {
		// Search failures degrade to create; a duplicate in the CRM
		// beats losing the lead.
		h.log.WarnContext(ctx, "crm contact search failed", "error", err)
		return "", nil
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return resp.Results[0].ID, nil
}

func (h *HubSpot) request(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.hc.Do(req)
	if err != nil {
		return fmt.Errorf("hubspot %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("hubspot %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func splitName(full string) (string, string, bool) {
	parts := strings.Fields(full)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], strings.Join(parts[1:], " "), true
}
