package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"voiceagent-platform/internal/audit"
	"voiceagent-platform/internal/auth"
	"voiceagent-platform/internal/orchestration"
	"voiceagent-platform/internal/reporting"
	"voiceagent-platform/internal/store"
	"voiceagent-platform/internal/voice"

	"github.com/gin-gonic/gin"
)

// webCallSampleRate is what the browser SDK expects for web call audio.
const webCallSampleRate = 24000

// maxWebhookBody caps the raw payload read from the provider.
const maxWebhookBody = 1 << 20

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth         *auth.Manager
	DashboardKey string
	Orchestrator *orchestration.Service

	// Reporting and Audit are optional; handlers degrade gracefully
	// when they are not wired.
	Reporting *reporting.Service
	Audit     *audit.Service
}

// auditLog appends a best-effort audit event. Failures never surface to
// the caller.
func (h Handlers) auditLog(c *gin.Context, fn func(ctx context.Context, actor, ip string) error) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	actor, _ := auth.Subject(ctx)
	_ = fn(ctx, actor, c.ClientIP())
}

// --- Auth ---

type loginRequest struct {
	APIKey string `json:"api_key"`
}

// Login exchanges the shared dashboard key for a JWT token pair.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.APIKey == "" || h.DashboardKey == "" || req.APIKey != h.DashboardKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), "dashboard")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Agents ---

type createAgentRequest struct {
	Name           string            `json:"name"`
	SystemPrompt   string            `json:"system_prompt"`
	ScenarioFields map[string]string `json:"scenario_fields"`
}

func (h Handlers) CreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	fields := make(map[string]store.FieldType, len(req.ScenarioFields))
	for name, ft := range req.ScenarioFields {
		fields[name] = store.FieldType(ft)
	}

	agent, err := h.Orchestrator.CreateAgent(c.Request.Context(), orchestration.CreateAgentRequest{
		Name:           req.Name,
		SystemPrompt:   req.SystemPrompt,
		ScenarioFields: fields,
	})
	if err != nil {
		switch {
		case errors.Is(err, orchestration.ErrInvalidArgument):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name, system_prompt and scenario_fields (text|boolean) are required"})
		case errors.Is(err, voice.ErrProvider):
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "voice provider registration failed"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent creation failed"})
		}
		return
	}

	h.auditLog(c, func(ctx context.Context, actor, ip string) error {
		return h.Audit.LogAgentCreated(ctx, actor, ip, agent.ID, "agent registered with voice provider")
	})
	c.JSON(http.StatusCreated, agent)
}

func (h Handlers) ListAgents(c *gin.Context) {
	agents, err := h.Orchestrator.ListAgents(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// --- Calls ---

type triggerCallRequest struct {
	AgentConfigID int64  `json:"agent_config_id"`
	DriverName    string `json:"driver_name"`
	DriverPhone   string `json:"driver_phone"`
	LoadNumber    string `json:"load_number"`
}

func (h Handlers) TriggerCall(c *gin.Context) {
	var req triggerCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AgentConfigID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_config_id required"})
		return
	}

	res, err := h.Orchestrator.TriggerCall(c.Request.Context(), orchestration.TriggerCallRequest{
		AgentConfigID: req.AgentConfigID,
		DriverName:    req.DriverName,
		DriverPhone:   req.DriverPhone,
		LoadNumber:    req.LoadNumber,
	})
	if err != nil {
		switch {
		case errors.Is(err, orchestration.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent config not found or not registered"})
		case errors.Is(err, voice.ErrProvider):
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "voice provider call failed"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call trigger failed"})
		}
		return
	}

	h.auditLog(c, func(ctx context.Context, actor, ip string) error {
		return h.Audit.LogCallTriggered(ctx, actor, ip, req.AgentConfigID, res.Record.ProviderCallID)
	})

	c.JSON(http.StatusOK, gin.H{
		"message":       "Web call initiated",
		"local_call_id": res.Record.ID,
		"call_id":       res.Record.ProviderCallID,
		"access_token":  res.AccessToken,
		"sample_rate":   webCallSampleRate,
	})
}

func (h Handlers) ListCallResults(c *gin.Context) {
	records, err := h.Orchestrator.ListCallRecords(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": records})
}

func (h Handlers) CallStats(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	summary, err := h.Reporting.CallsSummary(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats aggregation failed"})
		return
	}
	agents, err := h.Reporting.AgentSummaries(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats aggregation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "agents": agents})
}

// --- Webhook ---

// Webhook accepts provider events. It acknowledges with 204 before any
// analysis runs: extraction happens on the background dispatcher.
func (h Handlers) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	sig := c.GetHeader(voice.SignatureHeader)
	if err := h.Orchestrator.HandleWebhook(c.Request.Context(), body, sig); err != nil {
		switch {
		case errors.Is(err, voice.ErrBadSignature):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		case errors.Is(err, voice.ErrBadPayload):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook handling failed"})
		}
		return
	}
	c.Status(http.StatusNoContent)
}
