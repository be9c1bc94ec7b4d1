package redis_test

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rohanverma/ratelimitd/store"
	redisstore "github.com/rohanverma/ratelimitd/store/redis"
)

func newTestStore(t *testing.T) *redisstore.Store {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return redisstore.New(client)
}

func TestRedisStore_InterfaceCompliance(t *testing.T) {
	var _ store.Store = (*redisstore.Store)(nil)
}

func TestRedisStore_GetSetDel(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	// Get non-existent
	_, err := s.Get(ctx, "test:missing:key")
	if _, ok := err.(*store.ErrKeyNotFound); !ok {
		t.Fatalf("expected ErrKeyNotFound, got %T: %v", err, err)
	}

	// Set and Get
	if err := s.Set(ctx, "test:store:k1", "hello", 0); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Del(ctx, "test:store:k1") }()

	val, err := s.Get(ctx, "test:store:k1")
	if err != nil {
		t.Fatal(err)
	}
	if val != "hello" {
		t.Errorf("expected hello, got %q", val)
	}

	// Del
	if err := s.Del(ctx, "test:store:k1"); err != nil {
		t.Fatal(err)
	}
	_, err = s.Get(ctx, "test:store:k1")
	if _, ok := err.(*store.ErrKeyNotFound); !ok {
		t.Error("expected ErrKeyNotFound after Del")
	}
}

func TestRedisStore_Eval(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	result, err := s.Eval(ctx, "return 42", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.(int64) != 42 {
		t.Errorf("expected 42, got %v", result)
	}
}

func TestRedisStore_Client(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	if s.Client() == nil {
		t.Error("Client() should not return nil")
	}
}
