package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/samiam2007/kc-media-leadgen/internal/audit"
	"github.com/samiam2007/kc-media-leadgen/internal/auth"
	"github.com/samiam2007/kc-media-leadgen/internal/config"
	"github.com/samiam2007/kc-media-leadgen/internal/dispatch"
	"github.com/samiam2007/kc-media-leadgen/internal/queue"
	"github.com/samiam2007/kc-media-leadgen/internal/rbac"
	"github.com/samiam2007/kc-media-leadgen/internal/store"
)

type stubQueue struct {
	jobs []queue.CallJob
}

func (q *stubQueue) Enqueue(_ context.Context, job queue.CallJob, _ time.Duration) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) ClaimDue(context.Context, time.Time, int) ([]queue.CallJob, error) {
	return nil, nil
}

func (q *stubQueue) Ack(context.Context, queue.CallJob) error { return nil }

func (q *stubQueue) CancelByCampaign(_ context.Context, campaignID string) (int, error) {
	kept := q.jobs[:0]
	removed := 0
	for _, j := range q.jobs {
		if j.CampaignID == campaignID {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	q.jobs = kept
	return removed, nil
}

type apiFixture struct {
	st     store.Store
	q      *stubQueue
	audit  *audit.MemoryRepo
	router *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory().Repos()
	q := &stubQueue{}
	log := slog.Default()

	mgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	auditRepo := audit.NewMemoryRepo()
	h := Handlers{
		Auth:       mgr,
		Store:      st,
		Dispatcher: dispatch.NewDispatcher(st.Campaigns, st.Contacts, q, 100, 2, log),
		Audit:      audit.NewService(auditRepo),
		Log:        log,
	}
	router := gin.New()
	h.Register(router)
	return &apiFixture{st: st, q: q, audit: auditRepo, router: router}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) login(t *testing.T, role string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/auth/login", "", gin.H{"user_id": "u-1", "role": role})
	if w.Code != http.StatusOK {
		t.Fatalf("login as %s: status %d: %s", role, w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.AccessToken == "" {
		t.Fatalf("login response: %v %s", err, w.Body.String())
	}
	return resp.AccessToken
}

func TestLoginRejectsUnknownRole(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/auth/login", "", gin.H{"user_id": "u-1", "role": "superuser"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCampaignsRequireToken(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/v1/campaigns", "", gin.H{"name": "x"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAnalystCannotCreateCampaign(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, rbac.RoleAnalyst)
	w := f.do(t, http.MethodPost, "/v1/campaigns", token, gin.H{"name": "x"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestCampaignLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, rbac.RoleManager)

	w := f.do(t, http.MethodPost, "/v1/campaigns", token, gin.H{
		"name":           "broker outreach",
		"daily_call_cap": 50,
		"retry_policy":   gin.H{"max_attempts": 3, "delay_minutes": 30},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", w.Code, w.Body.String())
	}
	var campaign store.Campaign
	if err := json.Unmarshal(w.Body.Bytes(), &campaign); err != nil {
		t.Fatalf("decode campaign: %v", err)
	}
	if campaign.Status != store.CampaignStatusDraft {
		t.Fatalf("status = %s, want draft", campaign.Status)
	}

	ctx := context.Background()
	for _, id := range []string{"ct-1", "ct-2"} {
		contact := store.Contact{ID: id, Phone: "+1555000" + id, Status: store.ContactStatusNew}
		if err := f.st.Contacts.CreateContact(ctx, contact); err != nil {
			t.Fatalf("seed contact: %v", err)
		}
	}

	w = f.do(t, http.MethodPost, "/v1/campaigns/"+campaign.ID+"/start", token, gin.H{"calls_per_minute": 4})
	if w.Code != http.StatusOK {
		t.Fatalf("start: status %d: %s", w.Code, w.Body.String())
	}
	var started dispatch.StartResult
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if started.Queued != 2 || len(f.q.jobs) != 2 {
		t.Fatalf("queued = %d (jobs %d), want 2", started.Queued, len(f.q.jobs))
	}

	w = f.do(t, http.MethodPost, "/v1/campaigns/"+campaign.ID+"/stop", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop: status %d: %s", w.Code, w.Body.String())
	}
	var stopped dispatch.StopResult
	if err := json.Unmarshal(w.Body.Bytes(), &stopped); err != nil {
		t.Fatalf("decode stop: %v", err)
	}
	if stopped.Cancelled != 2 {
		t.Fatalf("cancelled = %d, want 2", stopped.Cancelled)
	}

	got, err := f.st.Campaigns.GetCampaign(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if got.Status != store.CampaignStatusPaused {
		t.Fatalf("status after stop = %s, want paused", got.Status)
	}

	events := f.audit.Events()
	if len(events) != 2 {
		t.Fatalf("audit events = %d, want start and stop", len(events))
	}
	if events[0].Type != audit.EventTypeCampaignStarted || events[1].Type != audit.EventTypeCampaignStopped {
		t.Fatalf("audit event types = %s/%s", events[0].Type, events[1].Type)
	}
	if events[0].ActorUserID != "u-1" {
		t.Fatalf("audit actor = %q, want u-1", events[0].ActorUserID)
	}
}

func TestStartUnknownCampaign(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, rbac.RoleManager)
	w := f.do(t, http.MethodPost, "/v1/campaigns/nope/start", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestDialContactQueuesOneJob(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, rbac.RoleManager)
	ctx := context.Background()

	campaign := store.Campaign{ID: "camp-1", Name: "x", Status: store.CampaignStatusActive}
	if err := f.st.Campaigns.CreateCampaign(ctx, campaign); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	contact := store.Contact{ID: "ct-1", Phone: "+15550001111", Status: store.ContactStatusNew}
	if err := f.st.Contacts.CreateContact(ctx, contact); err != nil {
		t.Fatalf("seed contact: %v", err)
	}

	w := f.do(t, http.MethodPost, "/v1/calls", token, gin.H{"contact_id": "ct-1", "campaign_id": "camp-1"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(f.q.jobs) != 1 || f.q.jobs[0].ContactID != "ct-1" {
		t.Fatalf("jobs = %+v, want one for ct-1", f.q.jobs)
	}
	if f.q.jobs[0].MaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want default 3", f.q.jobs[0].MaxAttempts)
	}
}

func TestAddDNCIsAdminOnly(t *testing.T) {
	f := newAPIFixture(t)

	manager := f.login(t, rbac.RoleManager)
	w := f.do(t, http.MethodPost, "/v1/dnc", manager, gin.H{"phone": "+15550002222"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("manager: status = %d, want 403", w.Code)
	}

	ctx := context.Background()
	contact := store.Contact{ID: "ct-1", Phone: "+15550002222", Status: store.ContactStatusNew}
	if err := f.st.Contacts.CreateContact(ctx, contact); err != nil {
		t.Fatalf("seed contact: %v", err)
	}

	admin := f.login(t, rbac.RoleAdmin)
	w = f.do(t, http.MethodPost, "/v1/dnc", admin, gin.H{"phone": "+15550002222", "reason": "written request"})
	if w.Code != http.StatusCreated {
		t.Fatalf("admin: status = %d: %s", w.Code, w.Body.String())
	}
	listed, err := f.st.DNC.IsOnDNCList(ctx, "+15550002222")
	if err != nil || !listed {
		t.Fatalf("dnc listed=%v err=%v", listed, err)
	}
	got, _ := f.st.Contacts.GetContact(ctx, "ct-1")
	if !got.DNC {
		t.Fatal("contact not flagged DNC")
	}
}

func TestCampaignStats(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, rbac.RoleAnalyst)
	ctx := context.Background()

	campaign := store.Campaign{ID: "camp-1", Name: "x", Status: store.CampaignStatusActive}
	if err := f.st.Campaigns.CreateCampaign(ctx, campaign); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}

	w := f.do(t, http.MethodGet, "/v1/campaigns/camp-1/stats", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var stats store.CampaignCallStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalCalls != 0 {
		t.Fatalf("total calls = %d, want 0", stats.TotalCalls)
	}
}
