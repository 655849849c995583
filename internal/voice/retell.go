package voice

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRetellBaseURL = "https://api.retellai.com"

// Voice/behavior defaults applied to every agent we register.
// These mirror the dispatch-call tuning: frequent backchannel, hard to
// interrupt, one fixed voice identity.
const (
	retellVoiceID               = "11labs-Adrian"
	retellBackchannelFrequency  = 0.9
	retellInterruptionThreshold = 0.05
)

// RetellProvider talks to Retell's REST API.
type RetellProvider struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

var _ Provider = (*RetellProvider)(nil)

type RetellOptions struct {
	// BaseURL overrides the production API endpoint (tests, proxies).
	BaseURL string
	// HTTPClient overrides the default client (10s timeout).
	HTTPClient *http.Client
}

func NewRetellProvider(apiKey string, opts RetellOptions) *RetellProvider {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultRetellBaseURL
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &RetellProvider{apiKey: apiKey, baseURL: baseURL, httpc: httpc}
}

func (p *RetellProvider) Name() string { return "retell" }

type retellCreateLLMRequest struct {
	GeneralPrompt string `json:"general_prompt"`
	StartSpeaker  string `json:"start_speaker"`
}

type retellCreateLLMResponse struct {
	LLMID string `json:"llm_id"`
}

type retellResponseEngine struct {
	Type  string `json:"type"`
	LLMID string `json:"llm_id"`
}

type retellCreateAgentRequest struct {
	AgentName               string               `json:"agent_name"`
	ResponseEngine          retellResponseEngine `json:"response_engine"`
	VoiceID                 string               `json:"voice_id"`
	EnableBackchannel       bool                 `json:"enable_backchannel"`
	BackchannelFrequency    float64              `json:"backchannel_frequency"`
	InterruptionSensitivity float64              `json:"interruption_sensitivity"`
}

type retellCreateAgentResponse struct {
	AgentID string `json:"agent_id"`
}

// RegisterAgent performs the two dependent provider calls: create the LLM
// brain, then create the agent referencing it. The second call is never
// attempted if the first fails. There is no rollback of the brain when the
// second call fails; orphaned brains are provider-managed and harmless.
func (p *RetellProvider) RegisterAgent(ctx context.Context, req RegisterAgentRequest) (RegisterAgentResult, error) {
	var llm retellCreateLLMResponse
	err := p.post(ctx, "/create-retell-llm", retellCreateLLMRequest{
		GeneralPrompt: req.SystemPrompt,
		StartSpeaker:  "agent",
	}, &llm)
	if err != nil {
		return RegisterAgentResult{}, fmt.Errorf("%w: create llm: %s", ErrProvider, err)
	}
	if llm.LLMID == "" {
		return RegisterAgentResult{}, fmt.Errorf("%w: create llm returned empty llm_id", ErrProvider)
	}

	var agent retellCreateAgentResponse
	err = p.post(ctx, "/create-agent", retellCreateAgentRequest{
		AgentName:               req.Name,
		ResponseEngine:          retellResponseEngine{Type: "retell-llm", LLMID: llm.LLMID},
		VoiceID:                 retellVoiceID,
		EnableBackchannel:       true,
		BackchannelFrequency:    retellBackchannelFrequency,
		InterruptionSensitivity: retellInterruptionThreshold,
	}, &agent)
	if err != nil {
		return RegisterAgentResult{}, fmt.Errorf("%w: create agent: %s", ErrProvider, err)
	}
	if agent.AgentID == "" {
		return RegisterAgentResult{}, fmt.Errorf("%w: create agent returned empty agent_id", ErrProvider)
	}

	return RegisterAgentResult{ProviderAgentID: agent.AgentID, ProviderBrainID: llm.LLMID}, nil
}

type retellCreateWebCallRequest struct {
	AgentID                   string            `json:"agent_id"`
	RetellLLMDynamicVariables map[string]string `json:"retell_llm_dynamic_variables,omitempty"`
}

type retellCreateWebCallResponse struct {
	CallID      string `json:"call_id"`
	AccessToken string `json:"access_token"`
}

func (p *RetellProvider) TriggerCall(ctx context.Context, req TriggerCallRequest) (TriggerCallResult, error) {
	var out retellCreateWebCallResponse
	err := p.post(ctx, "/v2/create-web-call", retellCreateWebCallRequest{
		AgentID:                   req.ProviderAgentID,
		RetellLLMDynamicVariables: req.DynamicVariables,
	}, &out)
	if err != nil {
		return TriggerCallResult{}, fmt.Errorf("%w: create web call: %s", ErrProvider, err)
	}
	if out.CallID == "" {
		return TriggerCallResult{}, fmt.Errorf("%w: create web call returned empty call_id", ErrProvider)
	}
	return TriggerCallResult{ProviderCallID: out.CallID, AccessToken: out.AccessToken}, nil
}

// VerifySignature checks the hex-encoded HMAC-SHA256 of the payload,
// keyed with the API key, in constant time.
func (p *RetellProvider) VerifySignature(payload []byte, signature string) error {
	if signature == "" {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(p.apiKey))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return ErrBadSignature
	}
	return nil
}

func (p *RetellProvider) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(string(data), 256))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s returned invalid JSON: %s", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
