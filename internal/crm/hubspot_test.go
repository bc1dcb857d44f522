package crm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/samiam2007/kc-media-leadgen/internal/store"
)

func testContact() store.Contact {
	return store.Contact{
		ID:       "ct-1",
		Phone:    "+15551230001",
		FullName: "Dana Reyes",
		Company:  "Reyes Commercial",
		Email:    "dana@example.com",
	}
}

func testQual() store.QualificationData {
	return store.QualificationData{
		ContactID:       "ct-1",
		Score:           25,
		Timeline:        "0-30 days",
		BudgetRange:     "$5,000+",
		PropertiesCount: 8,
	}
}

func TestSyncQualifiedLeadCreatesWhenSearchEmpty(t *testing.T) {
	var createdBody map[string]map[string]string
	var dealBody struct {
		Properties   map[string]string `json:"properties"`
		Associations []struct {
			To map[string]string `json:"to"`
		} `json:"associations"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("auth header = %q", got)
		}
		switch r.Method + " " + r.URL.Path {
		case "POST /crm/v3/objects/contacts/search":
			json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
		case "POST /crm/v3/objects/contacts":
			if err := json.NewDecoder(r.Body).Decode(&createdBody); err != nil {
				t.Errorf("decode create body: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "101"})
		case "POST /crm/v3/objects/deals":
			if err := json.NewDecoder(r.Body).Decode(&dealBody); err != nil {
				t.Errorf("decode deal body: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "d-1"})
		default:
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h := NewHubSpot("tok-1", "", slog.Default()).WithBaseURL(srv.URL)
	if err := h.SyncQualifiedLead(context.Background(), testContact(), testQual()); err != nil {
		t.Fatalf("SyncQualifiedLead: %v", err)
	}

	props := createdBody["properties"]
	if props["phone"] != "+15551230001" || props["lead_score"] != "25" {
		t.Fatalf("properties = %+v", props)
	}
	if props["firstname"] != "Dana" || props["lastname"] != "Reyes" {
		t.Fatalf("name split = %q/%q", props["firstname"], props["lastname"])
	}
	if props["lifecyclestage"] != "salesqualifiedlead" {
		t.Fatalf("lifecyclestage = %q", props["lifecyclestage"])
	}

	if dealBody.Properties["amount"] != "5000" {
		t.Fatalf("deal amount = %q, want 5000", dealBody.Properties["amount"])
	}
	if len(dealBody.Associations) != 1 || dealBody.Associations[0].To["id"] != "101" {
		t.Fatalf("deal associations = %+v, want contact 101", dealBody.Associations)
	}
}

func TestSyncQualifiedLeadPatchesExisting(t *testing.T) {
	patched := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "POST /crm/v3/objects/contacts/search":
			json.NewEncoder(w).Encode(map[string]any{"results": []map[string]string{{"id": "42"}}})
		case "PATCH /crm/v3/objects/contacts/42":
			patched = true
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("{}"))
		case "POST /crm/v3/objects/deals":
			w.Write([]byte("{}"))
		default:
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h := NewHubSpot("tok-1", "", slog.Default()).WithBaseURL(srv.URL)
	if err := h.SyncQualifiedLead(context.Background(), testContact(), testQual()); err != nil {
		t.Fatalf("SyncQualifiedLead: %v", err)
	}
	if !patched {
		t.Fatal("existing contact was not patched")
	}
}

func TestSyncQualifiedLeadSearchFailureFallsBackToCreate(t *testing.T) {
	created := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "POST /crm/v3/objects/contacts/search":
			w.WriteHeader(http.StatusInternalServerError)
		case "POST /crm/v3/objects/contacts":
			created = true
			json.NewEncoder(w).Encode(map[string]string{"id": "7"})
		case "POST /crm/v3/objects/deals":
			w.Write([]byte("{}"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h := NewHubSpot("tok-1", "", slog.Default()).WithBaseURL(srv.URL)
	if err := h.SyncQualifiedLead(context.Background(), testContact(), testQual()); err != nil {
		t.Fatalf("SyncQualifiedLead: %v", err)
	}
	if !created {
		t.Fatal("lead was lost when search failed")
	}
}

func TestEnrollNurtureNoopWithoutWorkflow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	h := NewHubSpot("tok-1", "", slog.Default()).WithBaseURL(srv.URL)
	if err := h.EnrollNurture(context.Background(), testContact()); err != nil {
		t.Fatalf("EnrollNurture: %v", err)
	}
}

func TestEnrollNurtureHitsWorkflow(t *testing.T) {
	enrolled := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enrolled = r.Method + " " + r.URL.Path
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	h := NewHubSpot("tok-1", "wf-9", slog.Default()).WithBaseURL(srv.URL)
	if err := h.EnrollNurture(context.Background(), testContact()); err != nil {
		t.Fatalf("EnrollNurture: %v", err)
	}
	want := "POST /automation/v2/workflows/wf-9/enrollments/contacts/dana@example.com"
	if enrolled != want {
		t.Fatalf("enrolled = %q, want %q", enrolled, want)
	}
}
