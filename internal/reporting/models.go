package reporting

// CallsSummary aggregates call records for the dashboard.

type CallsSummary struct {
	TotalCalls     int `json:"total_calls"`
	PendingCalls   int `json:"pending_calls"`
	AnalyzingCalls int `json:"analyzing_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`

	// OutcomeCounts maps extracted call_outcome labels to occurrence
	// counts, completed calls only.
	OutcomeCounts map[string]int `json:"outcome_counts"`

	// ExtractionSuccessRate is completed / (completed + failed).
	// Zero when no call has reached a terminal status yet.
	ExtractionSuccessRate float64 `json:"extraction_success_rate"`
}

// AgentSummary aggregates call records per agent config.

type AgentSummary struct {
	AgentConfigID int64  `json:"agent_config_id"`
	AgentName     string `json:"agent_name"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
}
