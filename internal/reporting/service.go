package reporting

import (
	"context"
	"errors"
	"sort"

	"voiceagent-platform/internal/store"
)

// Repository abstracts data access for reporting. The record store
// satisfies it directly.

type Repository interface {
	ListAgents(ctx context.Context) ([]store.AgentConfig, error)
	ListCallRecords(ctx context.Context) ([]store.CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context) (CallsSummary, error) {
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	records, err := s.repo.ListCallRecords(ctx)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{OutcomeCounts: map[string]int{}}
	for _, r := range records {
		out.TotalCalls++
		switch r.CallStatus {
		case store.CallStatusPending:
			out.PendingCalls++
		case store.CallStatusAnalyzing:
			out.AnalyzingCalls++
		case store.CallStatusCompleted:
			out.CompletedCalls++
			if r.CallOutcome != "" {
				out.OutcomeCounts[r.CallOutcome]++
			}
		case store.CallStatusFailed:
			out.FailedCalls++
		}
	}
	if terminal := out.CompletedCalls + out.FailedCalls; terminal > 0 {
		out.ExtractionSuccessRate = float64(out.CompletedCalls) / float64(terminal)
	}
	return out, nil
}

// AgentSummaries returns per-agent call totals, ordered by agent id.
// Agents with no calls still appear with zero counts.
func (s *Service) AgentSummaries(ctx context.Context) ([]AgentSummary, error) {
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}

	agents, err := s.repo.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListCallRecords(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*AgentSummary, len(agents))
	for _, a := range agents {
		byID[a.ID] = &AgentSummary{AgentConfigID: a.ID, AgentName: a.Name}
	}
	for _, r := range records {
		sum, ok := byID[r.AgentConfigID]
		if !ok {
			// Record whose agent is missing from the listing
			// (backends may diverge); count it anyway.
			sum = &AgentSummary{AgentConfigID: r.AgentConfigID}
			byID[r.AgentConfigID] = sum
		}
		sum.TotalCalls++
		switch r.CallStatus {
		case store.CallStatusCompleted:
			sum.CompletedCalls++
		case store.CallStatusFailed:
			sum.FailedCalls++
		}
	}

	out := make([]AgentSummary, 0, len(byID))
	for _, sum := range byID {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentConfigID < out[j].AgentConfigID })
	return out, nil
}
