package cache

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client. Tests are skipped when no
// local Redis is reachable; the integration suite covers the containerized
// path.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func testKey() Key {
	return Key{
		Source: "chembl",
		Path:   "/chembl/api/data/molecule.json",
		Params: url.Values{"limit": []string{"25"}},
	}
}

func TestNewStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	store := NewStore(client, 0)
	if store == nil {
		t.Fatal("NewStore returned nil")
	}
	if store.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", store.ttl, DefaultTTL)
	}

	store = NewStore(client, time.Hour)
	if store.ttl != time.Hour {
		t.Errorf("ttl = %v, want %v", store.ttl, time.Hour)
	}
}

func TestNewStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewStore should panic with nil redis client")
		}
	}()
	NewStore(nil, 0)
}

func TestStore_SetAndGet(t *testing.T) {
	client := setupTestRedis(t)
	store := NewStore(client, time.Hour)
	ctx := context.Background()

	key := testKey()
	payload := []byte(`{"molecules": [{"molecule_chembl_id": "CHEMBL25"}]}`)

	if err := store.Set(ctx, key, payload); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	entry, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if string(entry.Payload) != string(payload) {
		t.Errorf("Payload mismatch: got %s, want %s", entry.Payload, payload)
	}
	if entry.Source != "chembl" {
		t.Errorf("Source = %q, want %q", entry.Source, "chembl")
	}
	if age := entry.Age(); age < 0 || age > 5*time.Second {
		t.Errorf("Age() = %v, want close to zero", age)
	}
}

func TestStore_Get_Miss(t *testing.T) {
	client := setupTestRedis(t)
	store := NewStore(client, time.Hour)
	ctx := context.Background()

	_, err := store.Get(ctx, Key{Source: "uniprot", Path: "/nonexistent"})
	if err != ErrMiss {
		t.Errorf("Expected ErrMiss, got %v", err)
	}
}

func TestStore_Set_EmptyPayload(t *testing.T) {
	client := setupTestRedis(t)
	store := NewStore(client, time.Hour)
	ctx := context.Background()

	if err := store.Set(ctx, testKey(), nil); err == nil {
		t.Error("Set with empty payload should return error")
	}
}

func TestStore_Delete(t *testing.T) {
	client := setupTestRedis(t)
	store := NewStore(client, time.Hour)
	ctx := context.Background()

	key := testKey()

	if err := store.Set(ctx, key, []byte(`{"page": 1}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("Get after Set failed: %v", err)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err := store.Get(ctx, key)
	if err != ErrMiss {
		t.Errorf("Expected ErrMiss after Delete, got %v", err)
	}
}

func TestStore_TTL(t *testing.T) {
	client := setupTestRedis(t)
	store := NewStore(client, time.Hour)
	ctx := context.Background()

	key := testKey()

	if err := store.Set(ctx, key, []byte(`{"page": 1}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ttl, err := store.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL() = %v, want within (0, %v]", ttl, time.Hour)
	}
}

func TestStore_TTL_Miss(t *testing.T) {
	client := setupTestRedis(t)
	store := NewStore(client, time.Hour)
	ctx := context.Background()

	_, err := store.TTL(ctx, Key{Source: "uniprot", Path: "/nonexistent"})
	if err != ErrMiss {
		t.Errorf("Expected ErrMiss, got %v", err)
	}
}

func TestStore_SetWithTTL(t *testing.T) {
	client := setupTestRedis(t)
	store := NewStore(client, 24*time.Hour)
	ctx := context.Background()

	key := testKey()

	if err := store.SetWithTTL(ctx, key, []byte(`{"page": 1}`), time.Minute); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}

	ttl, err := store.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL() = %v, want within (0, %v]", ttl, time.Minute)
	}
}

func TestStore_Get_CorruptEntry(t *testing.T) {
	client := setupTestRedis(t)
	store := NewStore(client, time.Hour)
	ctx := context.Background()

	key := testKey()
	if err := client.Set(ctx, key.String(), "not json", time.Minute).Err(); err != nil {
		t.Fatalf("raw set failed: %v", err)
	}

	_, err := store.Get(ctx, key)
	if err == nil {
		t.Fatal("Get of corrupt entry should return error")
	}
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("error = %v, want ErrInvalidEntry", err)
	}
}
