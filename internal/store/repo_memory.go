package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the default record store: mutex-guarded, process-local maps.
// State lives exactly as long as the process; nothing survives a restart.
type MemoryStore struct {
	mu sync.Mutex

	agents      map[int64]AgentConfig
	agentOrder  []int64
	calls       map[int64]CallRecord
	callOrder   []int64
	callsByPCID map[string]int64

	nextAgentID int64
	nextCallID  int64

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:      map[int64]AgentConfig{},
		calls:       map[int64]CallRecord{},
		callsByPCID: map[string]int64{},
		clock:       time.Now,
	}
}

func (s *MemoryStore) CreateAgent(ctx context.Context, in NewAgentConfig) (AgentConfig, error) {
	if err := validateNewAgent(in); err != nil {
		return AgentConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAgentID++
	a := AgentConfig{
		ID:              s.nextAgentID,
		Name:            in.Name,
		SystemPrompt:    in.SystemPrompt,
		ScenarioFields:  copyFields(in.ScenarioFields),
		ProviderAgentID: in.ProviderAgentID,
		CreatedAt:       s.clock().UTC(),
	}
	s.agents[a.ID] = a
	s.agentOrder = append(s.agentOrder, a.ID)
	return a, nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, id int64) (AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return AgentConfig{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) ListAgents(ctx context.Context) ([]AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AgentConfig, 0, len(s.agentOrder))
	for _, id := range s.agentOrder {
		out = append(out, s.agents[id])
	}
	return out, nil
}

func (s *MemoryStore) CreateCallRecord(ctx context.Context, in NewCallRecord) (CallRecord, error) {
	if err := validateNewCallRecord(in); err != nil {
		return CallRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[in.AgentConfigID]; !ok {
		return CallRecord{}, ErrNotFound
	}
	if _, ok := s.callsByPCID[in.ProviderCallID]; ok {
		return CallRecord{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	s.nextCallID++
	r := CallRecord{
		ID:             s.nextCallID,
		AgentConfigID:  in.AgentConfigID,
		DriverName:     in.DriverName,
		DriverPhone:    in.DriverPhone,
		LoadNumber:     in.LoadNumber,
		ProviderCallID: in.ProviderCallID,
		CallStatus:     in.CallStatus,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.calls[r.ID] = r
	s.callOrder = append(s.callOrder, r.ID)
	s.callsByPCID[r.ProviderCallID] = r.ID
	return r, nil
}

func (s *MemoryStore) GetCallRecordByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.callsByPCID[providerCallID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return s.calls[id], nil
}

func (s *MemoryStore) UpdateCallRecord(ctx context.Context, providerCallID string, upd CallRecordUpdate) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.callsByPCID[providerCallID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	r := s.calls[id]
	upd.apply(&r, s.clock().UTC())
	s.calls[id] = r
	return r, nil
}

func (s *MemoryStore) ListCallRecords(ctx context.Context) ([]CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CallRecord, 0, len(s.callOrder))
	for i := len(s.callOrder) - 1; i >= 0; i-- {
		out = append(out, s.calls[s.callOrder[i]])
	}
	return out, nil
}

func copyFields(in map[string]FieldType) map[string]FieldType {
	if in == nil {
		return nil
	}
	out := make(map[string]FieldType, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
