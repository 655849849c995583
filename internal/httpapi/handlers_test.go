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

	"voiceagent-platform/internal/audit"
	"voiceagent-platform/internal/auth"
	"voiceagent-platform/internal/config"
	"voiceagent-platform/internal/orchestration"
	"voiceagent-platform/internal/reporting"
	"voiceagent-platform/internal/store"
	"voiceagent-platform/internal/voice"

	"github.com/gin-gonic/gin"
)

type stubProvider struct {
	registerResult voice.RegisterAgentResult
	registerErr    error
	triggerResult  voice.TriggerCallResult
	triggerErr     error
	verifyErr      error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) RegisterAgent(ctx context.Context, req voice.RegisterAgentRequest) (voice.RegisterAgentResult, error) {
	return s.registerResult, s.registerErr
}

func (s *stubProvider) TriggerCall(ctx context.Context, req voice.TriggerCallRequest) (voice.TriggerCallResult, error) {
	return s.triggerResult, s.triggerErr
}

func (s *stubProvider) VerifySignature(payload []byte, signature string) error {
	return s.verifyErr
}

type stubExtractor struct {
	result map[string]any
	err    error
}

func (s *stubExtractor) Extract(ctx context.Context, transcript string, fields map[string]store.FieldType) (map[string]any, error) {
	return s.result, s.err
}

type testEnv struct {
	router *gin.Engine
	store  *store.MemoryStore
	audit  *audit.MemoryRepo
}

func newTestEnv(t *testing.T, p *stubProvider, ex *stubExtractor, verifySignatures bool) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStore()
	d := orchestration.NewDispatcher(context.Background(), slog.Default(), 1, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	svc := orchestration.NewService(st, p, ex, d, slog.Default(), verifySignatures)

	mgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	auditRepo := audit.NewMemoryRepo()
	h := Handlers{
		Auth:         mgr,
		DashboardKey: "dash-key",
		Orchestrator: svc,
		Reporting:    reporting.NewService(st),
		Audit:        audit.NewService(auditRepo),
	}

	r := gin.New()
	r.POST("/v1/auth/login", h.Login)
	r.POST("/webhooks/voice", h.Webhook)
	r.POST("/v1/agents", h.CreateAgent)
	r.GET("/v1/agents", h.ListAgents)
	r.POST("/v1/calls/trigger", h.TriggerCall)
	r.GET("/v1/calls/results", h.ListCallResults)
	r.GET("/v1/calls/stats", h.CallStats)

	return testEnv{router: r, store: st, audit: auditRepo}
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAgent_Created(t *testing.T) {
	p := &stubProvider{registerResult: voice.RegisterAgentResult{ProviderAgentID: "agent_1"}}
	env := newTestEnv(t, p, &stubExtractor{}, false)

	w := doJSON(t, env.router, http.MethodPost, "/v1/agents", gin.H{
		"name":            "dispatch",
		"system_prompt":   "You call drivers.",
		"scenario_fields": gin.H{"delivered": "boolean", "eta": "text"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var agent store.AgentConfig
	if err := json.Unmarshal(w.Body.Bytes(), &agent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if agent.ProviderAgentID != "agent_1" {
		t.Fatalf("expected provider agent id in response, got %+v", agent)
	}
}

func TestCreateAgent_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, &stubProvider{}, &stubExtractor{}, false)

	cases := []struct {
		name string
		body gin.H
	}{
		{"missing name", gin.H{"system_prompt": "p", "scenario_fields": gin.H{"a": "text"}}},
		{"missing fields", gin.H{"name": "n", "system_prompt": "p"}},
		{"bad field type", gin.H{"name": "n", "system_prompt": "p", "scenario_fields": gin.H{"a": "integer"}}},
	}
	for _, tc := range cases {
		w := doJSON(t, env.router, http.MethodPost, "/v1/agents", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d body=%s", tc.name, w.Code, w.Body.String())
		}
	}
}

func TestCreateAgent_ProviderFailureIsBadGateway(t *testing.T) {
	p := &stubProvider{registerErr: voice.ErrProvider}
	env := newTestEnv(t, p, &stubExtractor{}, false)

	w := doJSON(t, env.router, http.MethodPost, "/v1/agents", gin.H{
		"name": "n", "system_prompt": "p", "scenario_fields": gin.H{"a": "text"},
	})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	agents, _ := env.store.ListAgents(context.Background())
	if len(agents) != 0 {
		t.Fatalf("failed registration must not persist an agent")
	}
}

func TestTriggerCall_ResponseShape(t *testing.T) {
	p := &stubProvider{
		registerResult: voice.RegisterAgentResult{ProviderAgentID: "agent_1"},
		triggerResult:  voice.TriggerCallResult{ProviderCallID: "call_1", AccessToken: "tok"},
	}
	env := newTestEnv(t, p, &stubExtractor{}, false)
	seedAgentHTTP(t, env)

	w := doJSON(t, env.router, http.MethodPost, "/v1/calls/trigger", gin.H{
		"agent_config_id": 1, "driver_name": "Maria", "load_number": "L-42",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Message     string `json:"message"`
		LocalCallID int64  `json:"local_call_id"`
		CallID      string `json:"call_id"`
		AccessToken string `json:"access_token"`
		SampleRate  int    `json:"sample_rate"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CallID != "call_1" || resp.AccessToken != "tok" || resp.SampleRate != webCallSampleRate {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.LocalCallID == 0 {
		t.Fatalf("expected local record id")
	}
}

func TestTriggerCall_UnknownAgentIs404(t *testing.T) {
	env := newTestEnv(t, &stubProvider{}, &stubExtractor{}, false)

	w := doJSON(t, env.router, http.MethodPost, "/v1/calls/trigger", gin.H{"agent_config_id": 42})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestWebhook_AcknowledgesAnalyzedCall(t *testing.T) {
	p := &stubProvider{
		registerResult: voice.RegisterAgentResult{ProviderAgentID: "agent_1"},
		triggerResult:  voice.TriggerCallResult{ProviderCallID: "call_1"},
	}
	ex := &stubExtractor{result: map[string]any{"delivered": true, "eta": "N/A", "call_outcome": "DELIVERED"}}
	env := newTestEnv(t, p, ex, false)
	seedAgentHTTP(t, env)
	if w := doJSON(t, env.router, http.MethodPost, "/v1/calls/trigger", gin.H{"agent_config_id": 1}); w.Code != http.StatusOK {
		t.Fatalf("trigger: %d %s", w.Code, w.Body.String())
	}

	payload := gin.H{"event": "call_analyzed", "call": gin.H{
		"call_id":    "call_1",
		"transcript": []gin.H{{"role": "user", "content": "delivered"}},
	}}
	w := doJSON(t, env.router, http.MethodPost, "/webhooks/voice", payload)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r, err := env.store.GetCallRecordByProviderCallID(context.Background(), "call_1")
		if err == nil && r.CallStatus == store.CallStatusCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("record never completed after webhook")
}

func TestWebhook_BadSignatureIsForbidden(t *testing.T) {
	p := &stubProvider{verifyErr: voice.ErrBadSignature}
	env := newTestEnv(t, p, &stubExtractor{}, true)

	w := doJSON(t, env.router, http.MethodPost, "/webhooks/voice", gin.H{"event": "call_analyzed"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestWebhook_MalformedPayloadIsBadRequest(t *testing.T) {
	env := newTestEnv(t, &stubProvider{}, &stubExtractor{}, false)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", bytes.NewBufferString("{broken"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestWebhook_OtherEventsAcknowledged(t *testing.T) {
	env := newTestEnv(t, &stubProvider{}, &stubExtractor{}, false)

	w := doJSON(t, env.router, http.MethodPost, "/webhooks/voice", gin.H{"event": "call_started", "call": gin.H{"call_id": "x"}})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestLogin_DashboardKeyExchange(t *testing.T) {
	env := newTestEnv(t, &stubProvider{}, &stubExtractor{}, false)

	w := doJSON(t, env.router, http.MethodPost, "/v1/auth/login", gin.H{"api_key": "dash-key"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("expected token pair, got %s", w.Body.String())
	}

	w = doJSON(t, env.router, http.MethodPost, "/v1/auth/login", gin.H{"api_key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestListCallResults_NewestFirst(t *testing.T) {
	p := &stubProvider{registerResult: voice.RegisterAgentResult{ProviderAgentID: "agent_1"}}
	env := newTestEnv(t, p, &stubExtractor{}, false)
	seedAgentHTTP(t, env)

	for _, pcid := range []string{"call_1", "call_2", "call_3"} {
		p.triggerResult = voice.TriggerCallResult{ProviderCallID: pcid}
		if w := doJSON(t, env.router, http.MethodPost, "/v1/calls/trigger", gin.H{"agent_config_id": 1}); w.Code != http.StatusOK {
			t.Fatalf("trigger %s: %d", pcid, w.Code)
		}
	}

	w := doJSON(t, env.router, http.MethodGet, "/v1/calls/results", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Results []store.CallRecord `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 3 || resp.Results[0].ProviderCallID != "call_3" {
		t.Fatalf("expected newest first, got %+v", resp.Results)
	}
}

func TestCallStats(t *testing.T) {
	p := &stubProvider{registerResult: voice.RegisterAgentResult{ProviderAgentID: "agent_1"}}
	env := newTestEnv(t, p, &stubExtractor{}, false)
	seedAgentHTTP(t, env)

	p.triggerResult = voice.TriggerCallResult{ProviderCallID: "call_1"}
	if w := doJSON(t, env.router, http.MethodPost, "/v1/calls/trigger", gin.H{"agent_config_id": 1}); w.Code != http.StatusOK {
		t.Fatalf("trigger: %d", w.Code)
	}

	w := doJSON(t, env.router, http.MethodGet, "/v1/calls/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Summary struct {
			TotalCalls   int `json:"total_calls"`
			PendingCalls int `json:"pending_calls"`
		} `json:"summary"`
		Agents []struct {
			AgentConfigID int64 `json:"agent_config_id"`
			TotalCalls    int   `json:"total_calls"`
		} `json:"agents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Summary.TotalCalls != 1 || resp.Summary.PendingCalls != 1 {
		t.Fatalf("unexpected summary: %+v", resp.Summary)
	}
	if len(resp.Agents) != 1 || resp.Agents[0].TotalCalls != 1 {
		t.Fatalf("unexpected agent summaries: %+v", resp.Agents)
	}
}

func TestMutatingEndpointsAreAudited(t *testing.T) {
	p := &stubProvider{
		registerResult: voice.RegisterAgentResult{ProviderAgentID: "agent_1"},
		triggerResult:  voice.TriggerCallResult{ProviderCallID: "call_1"},
	}
	env := newTestEnv(t, p, &stubExtractor{}, false)
	seedAgentHTTP(t, env)
	if w := doJSON(t, env.router, http.MethodPost, "/v1/calls/trigger", gin.H{"agent_config_id": 1}); w.Code != http.StatusOK {
		t.Fatalf("trigger: %d", w.Code)
	}

	evs := env.audit.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(evs))
	}
	if evs[0].Type != audit.EventTypeAgentCreated || evs[1].Type != audit.EventTypeCallTriggered {
		t.Fatalf("unexpected event types: %+v", evs)
	}
	if evs[1].CallID != "call_1" {
		t.Fatalf("expected provider call id on trigger event: %+v", evs[1])
	}
}

func seedAgentHTTP(t *testing.T, env testEnv) {
	t.Helper()
	w := doJSON(t, env.router, http.MethodPost, "/v1/agents", gin.H{
		"name": "dispatch", "system_prompt": "p", "scenario_fields": gin.H{"delivered": "boolean"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("seed agent: %d %s", w.Code, w.Body.String())
	}
}
