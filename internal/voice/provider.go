package voice

import (
	"context"
	"errors"
)

var (
	// ErrProvider wraps any provider-side or transport failure.
	ErrProvider = errors.New("voice: provider call failed")

	// ErrBadSignature signals a webhook that failed authenticity verification.
	ErrBadSignature = errors.New("voice: invalid webhook signature")

	// ErrBadPayload signals a webhook body that is not valid JSON.
	ErrBadPayload = errors.New("voice: malformed webhook payload")
)

// Provider defines the provider-agnostic interface used by the orchestration
// pipeline.
//
// Rules:
// - No provider SDK/API calls outside voice adapters.
// - Keep request/response types provider-agnostic; adapters translate.
type Provider interface {
	Name() string

	// RegisterAgent creates the provider-side brain (language-model
	// configuration) and the voice agent referencing it, returning the
	// provider's agent id.
	RegisterAgent(ctx context.Context, req RegisterAgentRequest) (RegisterAgentResult, error)

	// TriggerCall starts a call session for a registered agent, passing
	// call-specific variables for template substitution by the provider.
	TriggerCall(ctx context.Context, req TriggerCallRequest) (TriggerCallResult, error)

	// VerifySignature validates an inbound webhook body against the shared
	// secret. Callers must verify before trusting webhook content.
	VerifySignature(payload []byte, signature string) error
}

type RegisterAgentRequest struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
}

type RegisterAgentResult struct {
	// ProviderAgentID is the provider's identifier for the voice agent.
	ProviderAgentID string `json:"provider_agent_id"`

	// ProviderBrainID identifies the language-model configuration backing
	// the agent. Kept for debugging; orphaned brains are provider-managed.
	ProviderBrainID string `json:"provider_brain_id,omitempty"`
}

type TriggerCallRequest struct {
	ProviderAgentID string `json:"provider_agent_id"`

	// DynamicVariables are substituted into the agent's prompt templates
	// by the provider (driver name, load number, ...).
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

type TriggerCallResult struct {
	// ProviderCallID is the correlation key later echoed in webhooks.
	ProviderCallID string `json:"provider_call_id"`
	AccessToken    string `json:"access_token"`
}
