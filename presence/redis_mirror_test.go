package presence

import (
	"chat-sync/domain"
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeSets struct {
	mu   sync.Mutex
	sets map[string]map[string]bool
	fail bool
}

func (f *fakeSets) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if f.fail {
		cmd.SetErr(fmt.Errorf("connection refused"))
		return cmd
	}
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]bool)
	}
	for _, member := range members {
		f.sets[key][member.(string)] = true
	}
	return cmd
}

func (f *fakeSets) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, member := range members {
		delete(f.sets[key], member.(string))
	}
	return redis.NewIntCmd(ctx)
}

func (f *fakeSets) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.sets, key)
	}
	return redis.NewIntCmd(ctx)
}

// Scan returns every matching key in a single page.
func (f *fakeSets) Scan(ctx context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.sets {
		if ok, _ := path.Match(match, key); ok {
			keys = append(keys, key)
		}
	}
	cmd := redis.NewScanCmd(ctx, nil)
	cmd.SetVal(keys, 0)
	return cmd
}

func (f *fakeSets) Has(key, member string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets[key][member]
}

func TestRedisMirror_Applies_Deltas(t *testing.T) {
	req := require.New(t)
	sets := &fakeSets{sets: map[string]map[string]bool{onlineKey: {"stale": true}}}
	mirror := NewRedisMirror(sets, slog.Default(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = mirror.Run(ctx) }()

	// When alice comes online globally and in a conversation
	mirror.OnPresence(domain.PresenceDelta{Scope: domain.GlobalScope, Identity: "alice", Online: true})
	mirror.OnPresence(domain.PresenceDelta{Scope: domain.ConversationScope("c1"), Identity: "alice", Online: true})

	// Then both sets contain her and the stale member is gone
	req.Eventually(func() bool {
		return sets.Has(onlineKey, "alice") && sets.Has("presence:conv:c1", "alice")
	}, time.Second, 5*time.Millisecond)
	req.False(sets.Has(onlineKey, "stale"))

	// When she leaves
	mirror.OnPresence(domain.PresenceDelta{Scope: domain.GlobalScope, Identity: "alice", Online: false})
	req.Eventually(func() bool { return !sets.Has(onlineKey, "alice") }, time.Second, 5*time.Millisecond)
}

func TestRedisMirror_Write_Failure_Keeps_Running(t *testing.T) {
	req := require.New(t)
	sets := &fakeSets{sets: map[string]map[string]bool{}, fail: true}
	mirror := NewRedisMirror(sets, slog.Default(), 1)

	req.Error(mirror.apply(context.Background(), domain.PresenceDelta{Identity: "alice", Online: true}))

	// A full queue drops instead of blocking the tracker
	mirror.OnPresence(domain.PresenceDelta{Identity: "a", Online: true})
	mirror.OnPresence(domain.PresenceDelta{Identity: "b", Online: true})
	req.Len(mirror.queue, 1)
}

func TestRedisMirror_Start_Drops_Sets_Of_Previous_Process(t *testing.T) {
	req := require.New(t)
	sets := &fakeSets{sets: map[string]map[string]bool{
		onlineKey:           {"ghost": true},
		"presence:conv:c1":  {"ghost": true},
		"presence:conv:c2":  {"ghost": true},
		"unrelated:counter": {"kept": true},
	}}
	mirror := NewRedisMirror(sets, slog.Default(), 8)

	req.NoError(mirror.reset(context.Background()))

	req.False(sets.Has(onlineKey, "ghost"))
	req.False(sets.Has("presence:conv:c1", "ghost"))
	req.False(sets.Has("presence:conv:c2", "ghost"))
	req.True(sets.Has("unrelated:counter", "kept"))
}
