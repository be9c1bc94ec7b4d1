// Package memory provides an in-memory implementation of store.Store.
//
// This is useful for testing and single-process deployments.
// It does NOT support Lua scripting (Eval/EvalSha return ErrScriptNotSupported).
// store.Evaluator handles that error by running the Token Bucket and Leaky
// Bucket algorithms in-process under this store's lock, via EvalHashLocal.
//
//	s := memory.New()
//	defer s.Close()
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rohanverma/ratelimitd/store"
)

// Store implements store.Store with in-memory state.
// All operations are thread-safe.
type Store struct {
	mu sync.Mutex
	data map[string]entry
	hashes map[string]map[string]string
	hashExpire map[string]time.Time
	closed bool
	closeCh chan struct{}
}

type entry struct {
	value string
	expireAt time.Time
}

// New creates a new in-memory Store.
func New() *Store {
	s := &Store{
		data: make(map[string]entry),
		hashes: make(map[string]map[string]string),
		hashExpire: make(map[string]time.Time),
		closeCh: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.closeCh:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, e := range s.data {
		if !e.expireAt.IsZero() && now.After(e.expireAt) {
			delete(s.data, k)
		}
	}
	for k, exp := range s.hashExpire {
		if now.After(exp) {
			delete(s.hashes, k)
			delete(s.hashExpire, k)
		}
	}
}

func (s *Store) isExpired(e entry) bool {
	return !e.expireAt.IsZero() && time.Now().After(e.expireAt)
}

func (s *Store) Eval(_ context.Context, _ string, _ []string, _ ...interface{}) (interface{}, error) {
	return nil, &store.ErrScriptNotSupported{}
}

func (s *Store) EvalSha(_ context.Context, _ string, _ []string, _ ...interface{}) (interface{}, error) {
	return nil, &store.ErrScriptNotSupported{}
}

func (s *Store) ScriptLoad(_ context.Context, _ string) (string, error) {
	return "", &store.ErrScriptNotSupported{}
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok || s.isExpired(e) {
		delete(s.data, key)
		return "", &store.ErrKeyNotFound{Key: key}
	}
	return e.value, nil
}

func (s *Store) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.data, k)
		delete(s.hashes, k)
		delete(s.hashExpire, k)
	}
	return nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hashes[key]; ok {
		s.hashExpire[key] = time.Now().Add(ttl)
		return nil
	}
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	e.expireAt = time.Now().Add(ttl)
	s.data[key] = e
	return nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hashes[key]; ok {
		exp, has := s.hashExpire[key]
		if !has {
			return -1 * time.Second, nil
		}
		remaining := time.Until(exp)
		if remaining < 0 {
			delete(s.hashes, key)
			delete(s.hashExpire, key)
			return -2 * time.Second, nil
		}
		return remaining, nil
	}

	e, ok := s.data[key]
	if !ok || s.isExpired(e) {
		return -2 * time.Second, nil
	}
	if e.expireAt.IsZero() {
		return -1 * time.Second, nil
	}
	remaining := time.Until(e.expireAt)
	if remaining < 0 {
		delete(s.data, key)
		return -2 * time.Second, nil
	}
	return remaining, nil
}

func (s *Store) isHashExpired(key string) bool {
	exp, ok := s.hashExpire[key]
	return ok && time.Now().After(exp)
}

func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isHashExpired(key) {
		delete(s.hashes, key)
		delete(s.hashExpire, key)
		return map[string]string{}, nil
	}
	h, ok := s.hashes[key]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (s *Store) HSet(_ context.Context, key string, values ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isHashExpired(key) {
		delete(s.hashes, key)
		delete(s.hashExpire, key)
	}
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		field := fmt.Sprintf("%v", values[i])
		val := fmt.Sprintf("%v", values[i+1])
		h[field] = val
	}
	return nil
}

// EvalHashLocal performs a read-modify-write over the hash at key under the
// store's single mutex, giving compute a consistent (fields, ok) view and
// persisting whatever it returns with the given TTL. This is how the
// in-process Evaluator (store/evaluator.go) achieves atomicity against a
// MemoryStore, which does not support Lua scripting.
func (s *Store) EvalHashLocal(key string, ttl time.Duration, compute func(fields map[string]string, ok bool) map[string]string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isHashExpired(key) {
		delete(s.hashes, key)
		delete(s.hashExpire, key)
	}
	existing, ok := s.hashes[key]
	var snapshot map[string]string
	if ok {
		snapshot = make(map[string]string, len(existing))
		for k, v := range existing {
			snapshot[k] = v
		}
	}

	next := compute(snapshot, ok)
	s.hashes[key] = next
	if ttl > 0 {
		s.hashExpire[key] = time.Now().Add(ttl)
	}
	return next
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	return nil
}
