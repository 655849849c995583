package utils

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestNextSequence_InputValidation(t *testing.T) {
	if _, err := NextSequence(context.Background(), nil, "va:seq:agent"); err == nil {
		t.Fatalf("expected error for nil client")
	}

	// Validation fires before any command, so no server is needed.
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()
	if _, err := NextSequence(context.Background(), rdb, ""); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
