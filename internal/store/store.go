package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrInvalidArgument = errors.New("store: invalid argument")
)

// Store owns both entity sets; all mutation goes through it.
//
// Implementations must be safe for concurrent use. Updates addressed to
// different provider call ids never interfere; concurrent updates to the
// same id are last-write-wins (duplicate webhook deliveries are not
// serialized, by design).
type Store interface {
	// CreateAgent assigns the next sequential id and persists the config.
	CreateAgent(ctx context.Context, in NewAgentConfig) (AgentConfig, error)
	GetAgent(ctx context.Context, id int64) (AgentConfig, error)
	// ListAgents returns all agent configs in insertion order.
	ListAgents(ctx context.Context) ([]AgentConfig, error)

	// CreateCallRecord assigns the next sequential id and persists the record.
	// The referenced agent config must exist.
	CreateCallRecord(ctx context.Context, in NewCallRecord) (CallRecord, error)
	GetCallRecordByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error)
	// UpdateCallRecord merges the partial update into the record matching
	// providerCallID, returning ErrNotFound when no record matches.
	UpdateCallRecord(ctx context.Context, providerCallID string, upd CallRecordUpdate) (CallRecord, error)
	// ListCallRecords returns all call records ordered by id descending.
	ListCallRecords(ctx context.Context) ([]CallRecord, error)
}

func validateNewAgent(in NewAgentConfig) error {
	if in.Name == "" || in.SystemPrompt == "" {
		return ErrInvalidArgument
	}
	for name, ft := range in.ScenarioFields {
		if name == "" || !ft.Valid() {
			return ErrInvalidArgument
		}
	}
	return nil
}

func validateNewCallRecord(in NewCallRecord) error {
	if in.AgentConfigID <= 0 || in.ProviderCallID == "" {
		return ErrInvalidArgument
	}
	if in.CallStatus == "" {
		return ErrInvalidArgument
	}
	return nil
}
