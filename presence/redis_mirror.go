package presence

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const (
	onlineKey              = "presence:online"
	conversationKeyFmt     = "presence:conv:%s"
	conversationKeyPattern = "presence:conv:*"
	redisPingTimeout       = 3 * time.Second
	mirrorWriteDeadline    = time.Second
	resetBatch             = 500
)

var _ contract.PresenceObserver = (*RedisMirror)(nil)

// setWriter is the part of redis.Cmdable the mirror uses.
type setWriter interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisMirror copies announced presence into Redis sets for external readers.
// The tracker stays authoritative: the mirror is fed asynchronously and a lost
// update is only logged.
type RedisMirror struct {
	client setWriter
	log    *slog.Logger
	queue  chan domain.PresenceDelta
}

func NewRedisMirror(client setWriter, log *slog.Logger, bufferSize int) *RedisMirror {
	return &RedisMirror{
		client: client,
		log:    log,
		queue:  make(chan domain.PresenceDelta, bufferSize),
	}
}

// NewRedisClient opens and pings the client used by the mirror
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (m *RedisMirror) OnPresence(delta domain.PresenceDelta) {
	select {
	case m.queue <- delta:
	default:
		m.log.Debug("Presence mirror queue full, delta lost", "identity", delta.Identity, "scope", delta.Scope)
	}
}

func (m *RedisMirror) Run(ctx context.Context) error {
	if err := m.reset(ctx); err != nil {
		m.log.Warn("Unable to reset presence mirror", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			m.log.Debug("Context done, stopping presence mirror")
			return nil
		case delta := <-m.queue:
			if err := m.apply(ctx, delta); err != nil {
				m.log.Warn("Presence mirror write failed", "identity", delta.Identity, "error", err)
			}
		}
	}
}

// reset drops every set a previous process left behind, global and per conversation.
func (m *RedisMirror) reset(ctx context.Context) error {
	stale := []string{onlineKey}
	var cursor uint64
	for {
		keys, next, err := m.client.Scan(ctx, cursor, conversationKeyPattern, resetBatch).Result()
		if err != nil {
			return err
		}
		stale = append(stale, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	for _, batch := range lo.Chunk(stale, resetBatch) {
		if err := m.client.Del(ctx, batch...).Err(); err != nil {
			return err
		}
	}
	m.log.Debug("Presence mirror reset", "keys", len(stale))
	return nil
}

func (m *RedisMirror) apply(ctx context.Context, delta domain.PresenceDelta) error {
	ctx, cancel := context.WithTimeout(ctx, mirrorWriteDeadline)
	defer cancel()
	key := mirrorKey(delta.Scope)
	if delta.Online {
		return m.client.SAdd(ctx, key, string(delta.Identity)).Err()
	}
	return m.client.SRem(ctx, key, string(delta.Identity)).Err()
}

func mirrorKey(scope domain.Scope) string {
	if scope.IsGlobal() {
		return onlineKey
	}
	return fmt.Sprintf(conversationKeyFmt, scope.Conversation)
}
