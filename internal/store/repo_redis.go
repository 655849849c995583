package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"voiceagent-platform/pkg/utils"
)

// RedisStore keeps records in Redis so several API replicas can share one
// record set. Ids come from atomic INCR sequences; the provider call id is
// a secondary key pointing at the record id.
//
// Same concurrency contract as MemoryStore: updates to the same provider
// call id are last-write-wins, not serialized.
type RedisStore struct {
	rdb   *redis.Client
	clock func() time.Time
}

var _ Store = (*RedisStore)(nil)

const (
	keyAgentSeq       = "va:seq:agent"
	keyCallSeq        = "va:seq:call"
	keyAgentPrefix    = "va:agent:"
	keyAgentIndex     = "va:agents"
	keyCallPrefix     = "va:call:"
	keyCallIndex      = "va:calls"
	keyProviderPrefix = "va:call_by_provider:"
)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, clock: time.Now}
}

func (s *RedisStore) CreateAgent(ctx context.Context, in NewAgentConfig) (AgentConfig, error) {
	if err := validateNewAgent(in); err != nil {
		return AgentConfig{}, err
	}

	id, err := utils.NextSequence(ctx, s.rdb, keyAgentSeq)
	if err != nil {
		return AgentConfig{}, err
	}
	a := AgentConfig{
		ID:              id,
		Name:            in.Name,
		SystemPrompt:    in.SystemPrompt,
		ScenarioFields:  copyFields(in.ScenarioFields),
		ProviderAgentID: in.ProviderAgentID,
		CreatedAt:       s.clock().UTC(),
	}
	if err := s.putJSON(ctx, keyAgentPrefix+formatID(id), a); err != nil {
		return AgentConfig{}, err
	}
	if err := s.rdb.RPush(ctx, keyAgentIndex, id).Err(); err != nil {
		return AgentConfig{}, fmt.Errorf("store: index agent: %w", err)
	}
	return a, nil
}

func (s *RedisStore) GetAgent(ctx context.Context, id int64) (AgentConfig, error) {
	var a AgentConfig
	if err := s.getJSON(ctx, keyAgentPrefix+formatID(id), &a); err != nil {
		return AgentConfig{}, err
	}
	return a, nil
}

func (s *RedisStore) ListAgents(ctx context.Context) ([]AgentConfig, error) {
	ids, err := s.rdb.LRange(ctx, keyAgentIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	out := make([]AgentConfig, 0, len(ids))
	for _, raw := range ids {
		var a AgentConfig
		if err := s.getJSON(ctx, keyAgentPrefix+raw, &a); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *RedisStore) CreateCallRecord(ctx context.Context, in NewCallRecord) (CallRecord, error) {
	if err := validateNewCallRecord(in); err != nil {
		return CallRecord{}, err
	}

	exists, err := s.rdb.Exists(ctx, keyAgentPrefix+formatID(in.AgentConfigID)).Result()
	if err != nil {
		return CallRecord{}, fmt.Errorf("store: agent lookup: %w", err)
	}
	if exists == 0 {
		return CallRecord{}, ErrNotFound
	}

	id, err := utils.NextSequence(ctx, s.rdb, keyCallSeq)
	if err != nil {
		return CallRecord{}, err
	}

	// SETNX guards provider call id uniqueness.
	ok, err := s.rdb.SetNX(ctx, keyProviderPrefix+in.ProviderCallID, id, 0).Result()
	if err != nil {
		return CallRecord{}, fmt.Errorf("store: provider key: %w", err)
	}
	if !ok {
		return CallRecord{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	r := CallRecord{
		ID:             id,
		AgentConfigID:  in.AgentConfigID,
		DriverName:     in.DriverName,
		DriverPhone:    in.DriverPhone,
		LoadNumber:     in.LoadNumber,
		ProviderCallID: in.ProviderCallID,
		CallStatus:     in.CallStatus,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.putJSON(ctx, keyCallPrefix+formatID(id), r); err != nil {
		return CallRecord{}, err
	}
	if err := s.rdb.RPush(ctx, keyCallIndex, id).Err(); err != nil {
		return CallRecord{}, fmt.Errorf("store: index call: %w", err)
	}
	return r, nil
}

func (s *RedisStore) GetCallRecordByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error) {
	id, err := s.resolveProviderCallID(ctx, providerCallID)
	if err != nil {
		return CallRecord{}, err
	}
	var r CallRecord
	if err := s.getJSON(ctx, keyCallPrefix+formatID(id), &r); err != nil {
		return CallRecord{}, err
	}
	return r, nil
}

func (s *RedisStore) UpdateCallRecord(ctx context.Context, providerCallID string, upd CallRecordUpdate) (CallRecord, error) {
	id, err := s.resolveProviderCallID(ctx, providerCallID)
	if err != nil {
		return CallRecord{}, err
	}

	key := keyCallPrefix + formatID(id)
	var r CallRecord
	if err := s.getJSON(ctx, key, &r); err != nil {
		return CallRecord{}, err
	}
	upd.apply(&r, s.clock().UTC())
	if err := s.putJSON(ctx, key, r); err != nil {
		return CallRecord{}, err
	}
	return r, nil
}

func (s *RedisStore) ListCallRecords(ctx context.Context) ([]CallRecord, error) {
	ids, err := s.rdb.LRange(ctx, keyCallIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list calls: %w", err)
	}
	out := make([]CallRecord, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		var r CallRecord
		if err := s.getJSON(ctx, keyCallPrefix+ids[i], &r); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) resolveProviderCallID(ctx context.Context, providerCallID string) (int64, error) {
	raw, err := s.rdb.Get(ctx, keyProviderPrefix+providerCallID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("store: provider key lookup: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("store: corrupt provider key %q: %w", raw, err)
	}
	return id, nil
}

func (s *RedisStore) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("store: unmarshal %s: %w", key, err)
	}
	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
