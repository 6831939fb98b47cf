// Package cache holds advisory content for display next to a warning.
// Entries expire; nothing here is authoritative risk data.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
)

const keyPrefix = "advisory:"

// Redis stores advisory content as JSON with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedis(client, ttl), nil
}

func (r *Redis) Put(ctx context.Context, warningID string, content core.AdvisoryContent) error {
	b, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode advisory: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+warningID, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store advisory: %w", err)
	}
	return nil
}

// Get reports ok=false when nothing is cached for the warning.
func (r *Redis) Get(ctx context.Context, warningID string) (core.AdvisoryContent, bool, error) {
	b, err := r.client.Get(ctx, keyPrefix+warningID).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.AdvisoryContent{}, false, nil
	}
	if err != nil {
		return core.AdvisoryContent{}, false, fmt.Errorf("failed to load advisory: %w", err)
	}

	var content core.AdvisoryContent
	if err := json.Unmarshal(b, &content); err != nil {
		return core.AdvisoryContent{}, false, fmt.Errorf("failed to decode advisory: %w", err)
	}
	return content, true, nil
}

func (r *Redis) Delete(ctx context.Context, warningID string) error {
	return r.client.Del(ctx, keyPrefix+warningID).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type entry struct {
	content core.AdvisoryContent
	expires time.Time
}

// Memory is the single-process stand-in used when Redis is not configured.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) Put(_ context.Context, warningID string, content core.AdvisoryContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[warningID] = entry{content: content, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Get(_ context.Context, warningID string) (core.AdvisoryContent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[warningID]
	if !ok {
		return core.AdvisoryContent{}, false, nil
	}
	if m.ttl > 0 && m.now().After(e.expires) {
		delete(m.entries, warningID)
		return core.AdvisoryContent{}, false, nil
	}
	return e.content, true, nil
}

func (m *Memory) Delete(_ context.Context, warningID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, warningID)
	return nil
}
