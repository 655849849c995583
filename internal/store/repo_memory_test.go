package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestStore() *MemoryStore {
	s := NewMemoryStore()
	s.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return s
}

func mustCreateAgent(t *testing.T, s *MemoryStore) AgentConfig {
	t.Helper()
	a, err := s.CreateAgent(context.Background(), NewAgentConfig{
		Name:            "dispatch-check",
		SystemPrompt:    "You call drivers about load status.",
		ScenarioFields:  map[string]FieldType{"delivered": FieldTypeBoolean, "eta": FieldTypeText},
		ProviderAgentID: "agent_abc",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	return a
}

func TestCreateAgent_AssignsSequentialIDs(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	a1 := mustCreateAgent(t, s)
	a2 := mustCreateAgent(t, s)
	if a1.ID != 1 || a2.ID != 2 {
		t.Fatalf("expected ids 1,2 got %d,%d", a1.ID, a2.ID)
	}

	got, err := s.GetAgent(ctx, a1.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.Name != a1.Name || got.SystemPrompt != a1.SystemPrompt || got.ProviderAgentID != a1.ProviderAgentID {
		t.Fatalf("fetched agent differs: %+v vs %+v", got, a1)
	}
	if got.ScenarioFields["delivered"] != FieldTypeBoolean || got.ScenarioFields["eta"] != FieldTypeText {
		t.Fatalf("unexpected scenario fields: %+v", got.ScenarioFields)
	}
}

func TestListAgents_InsertionOrder(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 3; i++ {
		mustCreateAgent(t, s)
	}
	out, err := s.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(out))
	}
	for i, a := range out {
		if a.ID != int64(i+1) {
			t.Fatalf("expected creation order, got ids %v", []int64{out[0].ID, out[1].ID, out[2].ID})
		}
	}
}

func TestGetAgent_Absent(t *testing.T) {
	s := newTestStore()
	if _, err := s.GetAgent(context.Background(), 42); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateCallRecord_RequiresExistingAgent(t *testing.T) {
	s := newTestStore()
	_, err := s.CreateCallRecord(context.Background(), NewCallRecord{
		AgentConfigID:  99,
		ProviderCallID: "call_1",
		CallStatus:     CallStatusPending,
	})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateCallRecord_RejectsDuplicateProviderCallID(t *testing.T) {
	s := newTestStore()
	a := mustCreateAgent(t, s)
	ctx := context.Background()

	in := NewCallRecord{AgentConfigID: a.ID, ProviderCallID: "call_dup", CallStatus: CallStatusPending}
	if _, err := s.CreateCallRecord(ctx, in); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := s.CreateCallRecord(ctx, in); err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument for duplicate provider call id, got %v", err)
	}
}

func TestUpdateCallRecord_MergesPartialFields(t *testing.T) {
	s := newTestStore()
	a := mustCreateAgent(t, s)
	ctx := context.Background()

	_, err := s.CreateCallRecord(ctx, NewCallRecord{
		AgentConfigID: a.ID, DriverName: "Maria", ProviderCallID: "call_7", CallStatus: CallStatusPending,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	status := CallStatusCompleted
	outcome := "DELIVERED"
	transcript := "AGENT: hello\nUSER: delivered it"
	got, err := s.UpdateCallRecord(ctx, "call_7", CallRecordUpdate{
		CallStatus:        &status,
		CallOutcome:       &outcome,
		StructuredSummary: map[string]any{"delivered": true, "eta": "N/A"},
		FullTranscript:    &transcript,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.CallStatus != CallStatusCompleted || got.CallOutcome != "DELIVERED" {
		t.Fatalf("update not applied: %+v", got)
	}
	// untouched fields survive the merge
	if got.DriverName != "Maria" || got.ProviderCallID != "call_7" {
		t.Fatalf("merge clobbered untouched fields: %+v", got)
	}
	if got.StructuredSummary["delivered"] != true {
		t.Fatalf("expected summary stored, got %+v", got.StructuredSummary)
	}
}

func TestUpdateCallRecord_AbsentKey(t *testing.T) {
	s := newTestStore()
	if _, err := s.UpdateCallRecord(context.Background(), "no_such", CallRecordUpdate{}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCallRecords_MostRecentFirst(t *testing.T) {
	s := newTestStore()
	a := mustCreateAgent(t, s)
	ctx := context.Background()

	for _, pcid := range []string{"c1", "c2", "c3"} {
		if _, err := s.CreateCallRecord(ctx, NewCallRecord{
			AgentConfigID: a.ID, ProviderCallID: pcid, CallStatus: CallStatusPending,
		}); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	}
	out, err := s.ListCallRecords(ctx)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	if out[0].ID != 3 || out[1].ID != 2 || out[2].ID != 1 {
		t.Fatalf("expected ids [3 2 1], got [%d %d %d]", out[0].ID, out[1].ID, out[2].ID)
	}
}

func TestUpdateCallRecord_ConcurrentDistinctKeys(t *testing.T) {
	s := newTestStore()
	a := mustCreateAgent(t, s)
	ctx := context.Background()

	pcids := []string{"p1", "p2", "p3", "p4"}
	for _, pcid := range pcids {
		if _, err := s.CreateCallRecord(ctx, NewCallRecord{
			AgentConfigID: a.ID, ProviderCallID: pcid, CallStatus: CallStatusPending,
		}); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	}

	var wg sync.WaitGroup
	for _, pcid := range pcids {
		wg.Add(1)
		go func(pcid string) {
			defer wg.Done()
			status := CallStatusCompleted
			outcome := "OK:" + pcid
			if _, err := s.UpdateCallRecord(ctx, pcid, CallRecordUpdate{CallStatus: &status, CallOutcome: &outcome}); err != nil {
				t.Errorf("update %s: %v", pcid, err)
			}
		}(pcid)
	}
	wg.Wait()

	for _, pcid := range pcids {
		r, err := s.GetCallRecordByProviderCallID(ctx, pcid)
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if r.CallStatus != CallStatusCompleted || r.CallOutcome != "OK:"+pcid {
			t.Fatalf("record %s corrupted by concurrent update: %+v", pcid, r)
		}
	}
}
