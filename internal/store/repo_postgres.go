package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voiceagent-platform/pkg/utils"
)

// PostgresStore persists records in Postgres via database/sql (pgx stdlib).
// BIGSERIAL columns provide the sequential ids.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

// Migrate creates the schema if it does not exist yet.
// Intended for startup; production deployments may manage schema externally.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS agent_configs (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	system_prompt TEXT NOT NULL,
	scenario_fields JSONB NOT NULL DEFAULT '{}'::jsonb,
	provider_agent_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS call_records (
	id BIGSERIAL PRIMARY KEY,
	agent_config_id BIGINT NOT NULL REFERENCES agent_configs(id),
	driver_name TEXT NOT NULL DEFAULT '',
	driver_phone TEXT NOT NULL DEFAULT '',
	load_number TEXT NOT NULL DEFAULT '',
	provider_call_id TEXT NOT NULL UNIQUE,
	call_status TEXT NOT NULL,
	call_outcome TEXT NOT NULL DEFAULT '',
	structured_summary JSONB,
	full_transcript TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS call_records_provider_call_id_idx ON call_records (provider_call_id);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAgent(ctx context.Context, in NewAgentConfig) (AgentConfig, error) {
	if err := validateNewAgent(in); err != nil {
		return AgentConfig{}, err
	}

	fields, err := json.Marshal(in.ScenarioFields)
	if err != nil {
		return AgentConfig{}, fmt.Errorf("store: marshal scenario fields: %w", err)
	}

	a := AgentConfig{
		Name:            in.Name,
		SystemPrompt:    in.SystemPrompt,
		ScenarioFields:  copyFields(in.ScenarioFields),
		ProviderAgentID: in.ProviderAgentID,
		CreatedAt:       s.clock().UTC(),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO agent_configs (name, system_prompt, scenario_fields, provider_agent_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		a.Name, a.SystemPrompt, fields, a.ProviderAgentID, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return AgentConfig{}, fmt.Errorf("store: insert agent: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id int64) (AgentConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, system_prompt, scenario_fields, provider_agent_id, created_at
		FROM agent_configs WHERE id = $1`, id)
	return scanAgent(row)
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, system_prompt, scenario_fields, provider_agent_id, created_at
		FROM agent_configs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()

	out := make([]AgentConfig, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateCallRecord(ctx context.Context, in NewCallRecord) (CallRecord, error) {
	if err := validateNewCallRecord(in); err != nil {
		return CallRecord{}, err
	}

	now := s.clock().UTC()
	r := CallRecord{
		AgentConfigID:  in.AgentConfigID,
		DriverName:     in.DriverName,
		DriverPhone:    in.DriverPhone,
		LoadNumber:     in.LoadNumber,
		ProviderCallID: in.ProviderCallID,
		CallStatus:     in.CallStatus,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM agent_configs WHERE id = $1)`, in.AgentConfigID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("store: agent lookup: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO call_records
				(agent_config_id, driver_name, driver_phone, load_number, provider_call_id, call_status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			r.AgentConfigID, r.DriverName, r.DriverPhone, r.LoadNumber, r.ProviderCallID, r.CallStatus, r.CreatedAt, r.UpdatedAt,
		).Scan(&r.ID)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, fmt.Errorf("store: insert call record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetCallRecordByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error) {
	row := s.db.QueryRowContext(ctx, callRecordSelect+` WHERE provider_call_id = $1`, providerCallID)
	return scanCallRecord(row)
}

func (s *PostgresStore) UpdateCallRecord(ctx context.Context, providerCallID string, upd CallRecordUpdate) (CallRecord, error) {
	var out CallRecord
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, callRecordSelect+` WHERE provider_call_id = $1 FOR UPDATE`, providerCallID)
		r, err := scanCallRecord(row)
		if err != nil {
			return err
		}
		upd.apply(&r, s.clock().UTC())

		summary, err := marshalSummary(r.StructuredSummary)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE call_records
			SET call_status = $1, call_outcome = $2, structured_summary = $3, full_transcript = $4, updated_at = $5
			WHERE provider_call_id = $6`,
			r.CallStatus, r.CallOutcome, summary, r.FullTranscript, r.UpdatedAt, providerCallID,
		); err != nil {
			return fmt.Errorf("store: update call record: %w", err)
		}
		out = r
		return nil
	})
	if err != nil {
		return CallRecord{}, err
	}
	return out, nil
}

func (s *PostgresStore) ListCallRecords(ctx context.Context) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, callRecordSelect+` ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list call records: %w", err)
	}
	defer rows.Close()

	out := make([]CallRecord, 0)
	for rows.Next() {
		r, err := scanCallRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const callRecordSelect = `
	SELECT id, agent_config_id, driver_name, driver_phone, load_number, provider_call_id,
	       call_status, call_outcome, structured_summary, full_transcript, created_at, updated_at
	FROM call_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (AgentConfig, error) {
	var a AgentConfig
	var fields []byte
	err := row.Scan(&a.ID, &a.Name, &a.SystemPrompt, &fields, &a.ProviderAgentID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AgentConfig{}, ErrNotFound
	}
	if err != nil {
		return AgentConfig{}, fmt.Errorf("store: scan agent: %w", err)
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &a.ScenarioFields); err != nil {
			return AgentConfig{}, fmt.Errorf("store: unmarshal scenario fields: %w", err)
		}
	}
	return a, nil
}

func scanCallRecord(row rowScanner) (CallRecord, error) {
	var r CallRecord
	var summary []byte
	err := row.Scan(
		&r.ID, &r.AgentConfigID, &r.DriverName, &r.DriverPhone, &r.LoadNumber, &r.ProviderCallID,
		&r.CallStatus, &r.CallOutcome, &summary, &r.FullTranscript, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("store: scan call record: %w", err)
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &r.StructuredSummary); err != nil {
			return CallRecord{}, fmt.Errorf("store: unmarshal summary: %w", err)
		}
	}
	return r, nil
}

func marshalSummary(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("store: marshal summary: %w", err)
	}
	return raw, nil
}
