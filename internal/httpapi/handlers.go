package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samiam2007/kc-media-leadgen/internal/audit"
	"github.com/samiam2007/kc-media-leadgen/internal/auth"
	"github.com/samiam2007/kc-media-leadgen/internal/dispatch"
	"github.com/samiam2007/kc-media-leadgen/internal/rbac"
	"github.com/samiam2007/kc-media-leadgen/internal/store"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth       *auth.Manager
	Store      store.Store
	Dispatcher *dispatch.Dispatcher
	Audit      *audit.Service
	Log        *slog.Logger
}

// recordAudit is best-effort: an audit failure never blocks the caller.
func (h Handlers) recordAudit(c *gin.Context, fn func(ctx context.Context, userID, role, ip string) error) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	userID, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	if err := fn(ctx, userID, role, c.ClientIP()); err != nil {
		h.Log.WarnContext(ctx, "audit append failed", "error", err)
	}
}

// Register mounts the operator API. Webhook routes live in the
// callflow package; they are unauthenticated and mounted separately.
func (h Handlers) Register(r *gin.Engine) {
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/auth/login", h.Login)

	v1 := r.Group("/v1", auth.RequireAccessToken(h.Auth))

	campaigns := v1.Group("/campaigns")
	campaigns.POST("", rbac.RequireAnyRole(rbac.RoleManager), h.CreateCampaign)
	campaigns.GET("/:id", rbac.RequireAnyRole(rbac.RoleManager, rbac.RoleAnalyst), h.GetCampaign)
	campaigns.POST("/:id/start", rbac.RequireAnyRole(rbac.RoleManager), h.StartCampaign)
	campaigns.POST("/:id/stop", rbac.RequireAnyRole(rbac.RoleManager), h.StopCampaign)
	campaigns.GET("/:id/stats", rbac.RequireAnyRole(rbac.RoleManager, rbac.RoleAnalyst), h.CampaignStats)

	v1.POST("/contacts", rbac.RequireAnyRole(rbac.RoleManager), h.CreateContact)
	v1.POST("/scripts", rbac.RequireAnyRole(rbac.RoleManager), h.CreateScript)
	v1.POST("/calls", rbac.RequireAnyRole(rbac.RoleManager), h.DialContact)
	v1.GET("/calls/active", rbac.RequireAnyRole(rbac.RoleManager, rbac.RoleAnalyst), h.ActiveCalls)

	// Admin only: RequireAnyRole with no listed roles passes admins via
	// the bypass and denies everyone else.
	v1.POST("/dnc", rbac.RequireAnyRole(), h.AddDNC)
}

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and role required"})
		return
	}
	if !rbac.Known(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Campaigns ---

type createCampaignRequest struct {
	Name         string            `json:"name"`
	ScriptID     string            `json:"script_id"`
	RetryPolicy  store.RetryPolicy `json:"retry_policy"`
	DailyCallCap int               `json:"daily_call_cap"`
	Timezone     string            `json:"timezone"`
}

func (h Handlers) CreateCampaign(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Name == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid timezone"})
			return
		}
	}

	campaign := store.Campaign{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Status:       store.CampaignStatusDraft,
		ScriptID:     req.ScriptID,
		RetryPolicy:  req.RetryPolicy,
		DailyCallCap: req.DailyCallCap,
		Timezone:     req.Timezone,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.Store.Campaigns.CreateCampaign(c.Request.Context(), campaign); err != nil {
		h.Log.ErrorContext(c.Request.Context(), "create campaign failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (h Handlers) GetCampaign(c *gin.Context) {
	campaign, err := h.Store.Campaigns.GetCampaign(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, campaign)
}

type startCampaignRequest struct {
	ContactIDs     []string `json:"contact_ids"`
	CallsPerMinute int      `json:"calls_per_minute"`
}

func (h Handlers) StartCampaign(c *gin.Context) {
	// Body is optional: an empty start uses default selection and pacing.
	var req startCampaignRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	res, err := h.Dispatcher.StartCampaign(c.Request.Context(), c.Param("id"), req.ContactIDs, req.CallsPerMinute)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	case errors.Is(err, store.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign already completed"})
		return
	case err != nil:
		h.Log.ErrorContext(c.Request.Context(), "campaign start failed", "campaign_id", c.Param("id"), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "start failed"})
		return
	}
	h.recordAudit(c, func(ctx context.Context, userID, role, ip string) error {
		return h.Audit.LogCampaignAction(ctx, audit.EventTypeCampaignStarted, userID, role, ip,
			c.Param("id"), fmt.Sprintf("queued %d contacts", res.Queued))
	})
	c.JSON(http.StatusOK, res)
}

func (h Handlers) StopCampaign(c *gin.Context) {
	res, err := h.Dispatcher.StopCampaign(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	case err != nil:
		h.Log.ErrorContext(c.Request.Context(), "campaign stop failed", "campaign_id", c.Param("id"), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stop failed"})
		return
	}
	h.recordAudit(c, func(ctx context.Context, userID, role, ip string) error {
		return h.Audit.LogCampaignAction(ctx, audit.EventTypeCampaignStopped, userID, role, ip,
			c.Param("id"), fmt.Sprintf("cancelled %d pending jobs", res.Cancelled))
	})
	c.JSON(http.StatusOK, res)
}

func (h Handlers) CampaignStats(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.Store.Campaigns.GetCampaign(ctx, id); errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	stats, err := h.Store.Calls.CampaignStats(ctx, id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// --- Contacts and scripts ---

type createContactRequest struct {
	Phone      string `json:"phone"`
	FullName   string `json:"full_name"`
	Company    string `json:"company"`
	Email      string `json:"email"`
	CampaignID string `json:"campaign_id"`
	Source     string `json:"source"`
}

func (h Handlers) CreateContact(c *gin.Context) {
	var req createContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone required"})
		return
	}
	if req.Source == "" {
		req.Source = "manual"
	}
	now := time.Now().UTC()
	contact := store.Contact{
		ID:         uuid.NewString(),
		CampaignID: req.CampaignID,
		Phone:      req.Phone,
		FullName:   req.FullName,
		Company:    req.Company,
		Email:      req.Email,
		Status:     store.ContactStatusNew,
		Source:     req.Source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.Store.Contacts.CreateContact(c.Request.Context(), contact); err != nil {
		h.Log.ErrorContext(c.Request.Context(), "create contact failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusCreated, contact)
}

type createScriptRequest struct {
	Name      string `json:"name"`
	Persona   string `json:"persona"`
	IsDefault bool   `json:"is_default"`
}

func (h Handlers) CreateScript(c *gin.Context) {
	var req createScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Name == "" || req.Persona == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name and persona required"})
		return
	}
	script := store.Script{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Persona:   req.Persona,
		IsDefault: req.IsDefault,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.Scripts.CreateScript(c.Request.Context(), script); err != nil {
		h.Log.ErrorContext(c.Request.Context(), "create script failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusCreated, script)
}

// --- Calls ---

type dialRequest struct {
	ContactID  string `json:"contact_id"`
	CampaignID string `json:"campaign_id"`
}

func (h Handlers) DialContact(c *gin.Context) {
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ContactID == "" || req.CampaignID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "contact_id and campaign_id required"})
		return
	}
	jobID, err := h.Dispatcher.DialContact(c.Request.Context(), req.CampaignID, req.ContactID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign or contact not found"})
		return
	case err != nil:
		h.Log.ErrorContext(c.Request.Context(), "single dial failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dial failed"})
		return
	}
	h.recordAudit(c, func(ctx context.Context, userID, role, ip string) error {
		return h.Audit.LogManualDial(ctx, userID, role, ip, req.CampaignID, req.ContactID)
	})
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

func (h Handlers) ActiveCalls(c *gin.Context) {
	calls, err := h.Store.Calls.ListActiveCalls(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls, "count": len(calls)})
}

// --- DNC ---

type dncRequest struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

// AddDNC appends to the do-not-call ledger and flags a matching
// contact when one exists.
func (h Handlers) AddDNC(c *gin.Context) {
	var req dncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone required"})
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}
	ctx := c.Request.Context()
	now := time.Now().UTC()

	if err := h.Store.DNC.AddDNCEntry(ctx, store.DNCEntry{Phone: req.Phone, Reason: req.Reason, Source: "manual", CreatedAt: now}); err != nil {
		h.Log.ErrorContext(ctx, "add dnc entry failed", "phone", req.Phone, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "add failed"})
		return
	}
	if contact, found, err := h.Store.Contacts.GetContactByPhone(ctx, req.Phone); err == nil && found {
		if err := h.Store.Contacts.SetContactDNC(ctx, contact.ID, true, now); err != nil {
			h.Log.ErrorContext(ctx, "flag contact dnc failed", "contact_id", contact.ID, "error", err)
		}
	}
	h.recordAudit(c, func(ctx context.Context, userID, role, ip string) error {
		return h.Audit.LogDNCAdded(ctx, userID, role, ip, req.Phone, req.Reason)
	})
	c.JSON(http.StatusCreated, gin.H{"phone": req.Phone})
}
