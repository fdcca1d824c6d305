// Package cache holds an optional, best-effort Redis mirror of client
// presence. It is never authoritative — the session Store's in-memory
// roster is the source of truth (§4.5) — and every method degrades to
// a no-op when Redis is unavailable so a missing REDIS_HOST never
// blocks the coordinator itself.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/wintlu/stereo-play/config"
	"github.com/wintlu/stereo-play/logger"
)

const presenceTTL = 2 * time.Minute

// PresenceMirror publishes client online/offline events to Redis for
// external observers (dashboards, ops tooling) without making the
// coordinator itself depend on Redis being up.
type PresenceMirror struct {
	client *redis.Client
}

// NewPresenceMirror connects if cfg.RedisHost is set, verified with a
// short ping; any failure — including no host configured — leaves the
// mirror disabled rather than aborting startup.
func NewPresenceMirror(cfg *config.Config) *PresenceMirror {
	if cfg.RedisHost == "" {
		return &PresenceMirror{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		logger.Warn("redis presence mirror unavailable, continuing without it", logger.ErrorField(err))
		return &PresenceMirror{}
	}

	return &PresenceMirror{client: client}
}

func (p *PresenceMirror) Enabled() bool { return p != nil && p.client != nil }

// MarkOnline records a client as connected, expiring automatically so
// a crashed process never leaves stale presence entries behind.
func (p *PresenceMirror) MarkOnline(clientID string) {
	if !p.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.client.Set(ctx, presenceKey(clientID), "online", presenceTTL).Err(); err != nil {
		logger.Warn("presence mirror set failed", logger.ErrorField(err))
	}
}

// MarkOffline removes the client's presence entry immediately on a
// clean disconnect.
func (p *PresenceMirror) MarkOffline(clientID string) {
	if !p.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.client.Del(ctx, presenceKey(clientID)).Err(); err != nil {
		logger.Warn("presence mirror delete failed", logger.ErrorField(err))
	}
}

// RecordLatency mirrors a client's latest observed latency, useful for
// spotting a consistently slow peer from outside the process.
func (p *PresenceMirror) RecordLatency(clientID string, latencyMs int64) {
	if !p.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.client.Set(ctx, latencyKey(clientID), latencyMs, presenceTTL).Err(); err != nil {
		logger.Warn("presence mirror latency set failed", logger.ErrorField(err))
	}
}

func (p *PresenceMirror) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.client.Close()
}

func presenceKey(clientID string) string { return "presence:" + clientID }
func latencyKey(clientID string) string  { return "presence:latency:" + clientID }
