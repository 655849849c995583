package orchestration

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"voiceagent-platform/internal/extraction"
	"voiceagent-platform/internal/store"
	"voiceagent-platform/internal/voice"
	"voiceagent-platform/pkg/logger"
)

var (
	// ErrNotFound signals a referenced entity that does not exist or an
	// agent that was never registered with the provider.
	ErrNotFound = errors.New("orchestration: not found")

	ErrInvalidArgument = errors.New("orchestration: invalid argument")
)

const (
	// outcomeUnknown is stored when the schema-bound response carries no
	// call_outcome field.
	outcomeUnknown = "UNKNOWN"

	// outcomeExtractionError is the fixed label for failed extractions.
	outcomeExtractionError = "LLM_EXTRACTION_ERROR"
)

// Service ties the record store, voice provider and summary extractor into
// the call orchestration pipeline: trigger calls, receive provider events,
// run extraction off the request path, update records with the outcome.
type Service struct {
	store      store.Store
	provider   voice.Provider
	extractor  extraction.Extractor
	dispatcher *Dispatcher
	log        *slog.Logger

	// verifySignatures gates webhook authenticity checks. Disabled only
	// for local development; config refuses to disable it in production.
	verifySignatures bool
}

func NewService(st store.Store, p voice.Provider, ex extraction.Extractor, d *Dispatcher, log *slog.Logger, verifySignatures bool) *Service {
	return &Service{
		store:            st,
		provider:         p,
		extractor:        ex,
		dispatcher:       d,
		log:              logger.Component(log, "orchestration"),
		verifySignatures: verifySignatures,
	}
}

type CreateAgentRequest struct {
	Name           string
	SystemPrompt   string
	ScenarioFields map[string]store.FieldType
}

// CreateAgent registers the agent with the voice provider first, then
// persists the config with the provider's agent id. A provider failure
// leaves no local record behind.
func (s *Service) CreateAgent(ctx context.Context, req CreateAgentRequest) (store.AgentConfig, error) {
	if req.Name == "" || req.SystemPrompt == "" || len(req.ScenarioFields) == 0 {
		return store.AgentConfig{}, ErrInvalidArgument
	}
	for name, ft := range req.ScenarioFields {
		if name == "" || !ft.Valid() {
			return store.AgentConfig{}, ErrInvalidArgument
		}
	}

	reg, err := s.provider.RegisterAgent(ctx, voice.RegisterAgentRequest{
		Name:         req.Name,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		return store.AgentConfig{}, err
	}

	return s.store.CreateAgent(ctx, store.NewAgentConfig{
		Name:            req.Name,
		SystemPrompt:    req.SystemPrompt,
		ScenarioFields:  req.ScenarioFields,
		ProviderAgentID: reg.ProviderAgentID,
	})
}

func (s *Service) ListAgents(ctx context.Context) ([]store.AgentConfig, error) {
	return s.store.ListAgents(ctx)
}

type TriggerCallRequest struct {
	AgentConfigID int64
	DriverName    string
	DriverPhone   string
	LoadNumber    string
}

type TriggerCallResult struct {
	Record      store.CallRecord
	AccessToken string
}

// TriggerCall starts a provider call session and records it as PENDING.
// The provider is never called for a missing or unregistered agent.
func (s *Service) TriggerCall(ctx context.Context, req TriggerCallRequest) (TriggerCallResult, error) {
	agent, err := s.store.GetAgent(ctx, req.AgentConfigID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TriggerCallResult{}, ErrNotFound
		}
		return TriggerCallResult{}, err
	}
	if agent.ProviderAgentID == "" {
		return TriggerCallResult{}, ErrNotFound
	}

	call, err := s.provider.TriggerCall(ctx, voice.TriggerCallRequest{
		ProviderAgentID: agent.ProviderAgentID,
		DynamicVariables: map[string]string{
			"driver_name": req.DriverName,
			"load_number": req.LoadNumber,
		},
	})
	if err != nil {
		return TriggerCallResult{}, err
	}

	record, err := s.store.CreateCallRecord(ctx, store.NewCallRecord{
		AgentConfigID:  req.AgentConfigID,
		DriverName:     req.DriverName,
		DriverPhone:    req.DriverPhone,
		LoadNumber:     req.LoadNumber,
		ProviderCallID: call.ProviderCallID,
		CallStatus:     store.CallStatusPending,
	})
	if err != nil {
		return TriggerCallResult{}, err
	}
	return TriggerCallResult{Record: record, AccessToken: call.AccessToken}, nil
}

func (s *Service) ListCallRecords(ctx context.Context) ([]store.CallRecord, error) {
	return s.store.ListCallRecords(ctx)
}

// HandleWebhook processes a raw provider event. The caller acknowledges the
// provider immediately; extraction runs on the dispatcher afterwards.
//
// Only "call_analyzed" dispatches work. Every other event type is a silent
// no-op so the provider never sees an error it would retry.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if s.verifySignatures {
		if err := s.provider.VerifySignature(body, signature); err != nil {
			return err
		}
	}

	ev, err := voice.ParseWebhookEvent(body)
	if err != nil {
		return err
	}
	if ev.Event != voice.EventCallAnalyzed {
		return nil
	}

	call := ev.Call
	if !s.dispatcher.Submit(func(taskCtx context.Context) {
		s.processAnalyzedCall(taskCtx, call)
	}) {
		// Dropped work is an at-most-once consequence, not a webhook error.
		s.log.Warn("analysis task dropped", "provider_call_id", call.CallID)
	}
	return nil
}

// processAnalyzedCall is the deferred task behind a call_analyzed event.
// Errors never propagate to a caller; a failed extraction terminates the
// record as FAILED and everything else is visible only in the log stream.
func (s *Service) processAnalyzedCall(ctx context.Context, call voice.CallPayload) {
	log := s.log.With("provider_call_id", call.CallID)

	record, err := s.store.GetCallRecordByProviderCallID(ctx, call.CallID)
	if err != nil {
		log.Warn("no call record for analyzed call, skipping", "err", err)
		return
	}
	agent, err := s.store.GetAgent(ctx, record.AgentConfigID)
	if err != nil {
		log.Warn("agent config missing for call record, skipping", "agent_config_id", record.AgentConfigID, "err", err)
		return
	}

	// The record is ANALYZING while extraction is in flight. A replayed
	// event lands on a terminal record: re-extraction still overwrites
	// the result below, but the status must never leave a terminal state.
	if !record.CallStatus.Terminal() {
		analyzing := store.CallStatusAnalyzing
		if _, err := s.store.UpdateCallRecord(ctx, call.CallID, store.CallRecordUpdate{CallStatus: &analyzing}); err != nil {
			log.Warn("failed to mark record analyzing", "err", err)
		}
	}

	transcript := FlattenTranscript(call.Transcript)
	summary, err := s.extractor.Extract(ctx, transcript, agent.ScenarioFields)
	if err != nil {
		log.Error("extraction failed", "err", err)
		failed := store.CallStatusFailed
		outcome := outcomeExtractionError
		if _, uerr := s.store.UpdateCallRecord(ctx, call.CallID, store.CallRecordUpdate{
			CallStatus:  &failed,
			CallOutcome: &outcome,
			StructuredSummary: map[string]any{
				"call_outcome":  "FAILED_EXTRACTION",
				"error_details": err.Error(),
			},
			FullTranscript: &transcript,
		}); uerr != nil {
			log.Error("failed to record extraction failure", "err", uerr)
		}
		return
	}

	completed := store.CallStatusCompleted
	outcome := outcomeUnknown
	if v, ok := summary["call_outcome"].(string); ok && v != "" {
		outcome = v
	}
	if _, err := s.store.UpdateCallRecord(ctx, call.CallID, store.CallRecordUpdate{
		CallStatus:        &completed,
		CallOutcome:       &outcome,
		StructuredSummary: summary,
		FullTranscript:    &transcript,
	}); err != nil {
		log.Error("failed to store extraction result", "err", err)
		return
	}
	log.Info("call analysis stored", "outcome", outcome)
}

// FlattenTranscript joins agent/user turns into a single text blob, one
// line per turn, each prefixed by the uppercase role. Other roles are
// discarded; original order is preserved.
func FlattenTranscript(turns []voice.TranscriptTurn) string {
	var b strings.Builder
	for _, turn := range turns {
		if turn.Role != "agent" && turn.Role != "user" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.ToUpper(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Content)
	}
	return b.String()
}
