package redis

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	xerrors "OnChainAgents/internal/errors"
	"OnChainAgents/internal/identity"

	"github.com/redis/go-redis/v9"
)

func TestRecordEncodingRoundTrip(t *testing.T) {
	record := identity.Record{
		ID:              identity.NewID(),
		Address:         "0x00000000000000000000000000000000000000bb",
		Network:         "base-sepolia",
		CreatedAt:       time.Date(2024, 5, 1, 12, 0, 0, 42, time.UTC),
		EncryptedSecret: json.RawMessage(`{"version":3}`),
	}
	fields := map[string]string{}
	for k, v := range encodeRecord(record) {
		fields[k] = v.(string)
	}
	got, err := decodeRecord(record.ID, fields)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.CreatedAt.Equal(record.CreatedAt) || got.Address != record.Address || string(got.EncryptedSecret) != string(record.EncryptedSecret) {
		t.Fatalf("unexpected record %+v", got)
	}

	fields[fieldSecret] = "{broken"
	if _, err := decodeRecord(record.ID, fields); err == nil {
		t.Fatalf("expected corrupt secret to fail")
	}
	fields[fieldSecret] = `{}`
	if _, err := decodeRecord(identity.NewID(), fields); err == nil {
		t.Fatalf("expected id mismatch to fail")
	}
}

func TestKeyLayout(t *testing.T) {
	store := NewIdentityStoreWithClient(nil, "tenant:")
	if got := store.recordKey("abc"); got != "tenant:identity:abc" {
		t.Fatalf("unexpected record key %s", got)
	}
	if got := store.registryKey(); got != "tenant:identities" {
		t.Fatalf("unexpected registry key %s", got)
	}
	if got := NewIdentityStoreWithClient(nil, "").prefix; got != "onchain" {
		t.Fatalf("unexpected default prefix %s", got)
	}
}

// 需要真实 Redis：设置 REDIS_ADDR 后运行。
func TestIdentityStoreAgainstRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	prefix := "test:" + identity.NewID()
	store := NewIdentityStoreWithClient(client, prefix)
	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		_ = store.Close()
	})

	record := identity.Record{
		ID:              identity.NewID(),
		Address:         "0x00000000000000000000000000000000000000cc",
		CreatedAt:       time.Now().UTC(),
		EncryptedSecret: json.RawMessage(`{"version":3}`),
	}
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Get(ctx, record.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := store.Get(ctx, identity.NewID()); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	second := identity.NewID()
	for _, id := range []string{record.ID, second, record.ID} {
		if err := store.Register(ctx, id); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	ids, err := store.Registered(ctx)
	if err != nil {
		t.Fatalf("registered: %v", err)
	}
	if len(ids) != 2 || ids[0] != record.ID || ids[1] != second {
		t.Fatalf("unexpected registry %v", ids)
	}
}
