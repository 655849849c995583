package store

import "time"

// FieldType declares how a scenario field is extracted from a transcript.
type FieldType string

const (
	FieldTypeText    FieldType = "text"
	FieldTypeBoolean FieldType = "boolean"
)

func (t FieldType) Valid() bool {
	return t == FieldTypeText || t == FieldTypeBoolean
}

// AgentConfig is a registered voice agent configuration.
// Immutable after creation; never deleted.
//
// ProviderAgentID is empty until the provider registration succeeds,
// and set exactly once afterwards.
type AgentConfig struct {
	ID              int64                `json:"id"`
	Name            string               `json:"name"`
	SystemPrompt    string               `json:"system_prompt"`
	ScenarioFields  map[string]FieldType `json:"scenario_fields"`
	ProviderAgentID string               `json:"provider_agent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type CallStatus string

const (
	CallStatusPending   CallStatus = "PENDING"
	CallStatusAnalyzing CallStatus = "ANALYZING"
	CallStatusCompleted CallStatus = "COMPLETED"
	CallStatusFailed    CallStatus = "FAILED"
)

// Terminal reports whether no further status transition is allowed.
func (s CallStatus) Terminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

// CallRecord tracks one triggered call through analysis.
//
// Invariants:
// - AgentConfigID references an existing AgentConfig at creation time.
// - ProviderCallID identifies at most one CallRecord.
// - Status transitions never leave a terminal state.
type CallRecord struct {
	ID            int64  `json:"id"`
	AgentConfigID int64  `json:"agent_config_id"`
	DriverName    string `json:"driver_name"`
	DriverPhone   string `json:"driver_phone"`
	LoadNumber    string `json:"load_number"`

	// ProviderCallID is the provider-assigned correlation key used to match
	// inbound webhooks to this record.
	ProviderCallID string `json:"provider_call_id"`

	CallStatus  CallStatus `json:"call_status"`
	CallOutcome string     `json:"call_outcome,omitempty"`

	// StructuredSummary holds the schema-bound extraction result, or an
	// error payload when extraction failed.
	StructuredSummary map[string]any `json:"structured_summary,omitempty"`
	FullTranscript    string         `json:"full_transcript,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAgentConfig carries the fields required to create an AgentConfig.
type NewAgentConfig struct {
	Name            string
	SystemPrompt    string
	ScenarioFields  map[string]FieldType
	ProviderAgentID string
}

// NewCallRecord carries the fields required to create a CallRecord.
type NewCallRecord struct {
	AgentConfigID  int64
	DriverName     string
	DriverPhone    string
	LoadNumber     string
	ProviderCallID string
	CallStatus     CallStatus
}

// CallRecordUpdate is a partial update merged into an existing record.
// Nil pointers leave the corresponding field untouched.
type CallRecordUpdate struct {
	CallStatus        *CallStatus
	CallOutcome       *string
	StructuredSummary map[string]any
	FullTranscript    *string
}

func (u CallRecordUpdate) apply(r *CallRecord, now time.Time) {
	if u.CallStatus != nil {
		r.CallStatus = *u.CallStatus
	}
	if u.CallOutcome != nil {
		r.CallOutcome = *u.CallOutcome
	}
	if u.StructuredSummary != nil {
		r.StructuredSummary = u.StructuredSummary
	}
	if u.FullTranscript != nil {
		r.FullTranscript = *u.FullTranscript
	}
	r.UpdatedAt = now
}
