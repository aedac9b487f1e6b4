package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRedis emulates SET NX and the release script over a map.
type fakeRedis struct {
	sync.Mutex
	data map[string]interface{}
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]interface{})}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.Lock()
	defer f.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if _, exists := f.data[key]; exists {
		cmd.SetVal(false)
		return cmd
	}
	f.data[key] = value
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) release(ctx context.Context, keys []string, args ...interface{}) *redis.Cmd {
	f.Lock()
	defer f.Unlock()
	cmd := redis.NewCmd(ctx)
	if f.data[keys[0]] == args[0] {
		delete(f.data, keys[0])
		cmd.SetVal(int64(1))
		return cmd
	}
	cmd.SetVal(int64(0))
	return cmd
}

func (f *fakeRedis) Eval(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.release(ctx, keys, args...)
}
func (f *fakeRedis) EvalSha(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.release(ctx, keys, args...)
}
func (f *fakeRedis) EvalRO(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.release(ctx, keys, args...)
}
func (f *fakeRedis) EvalShaRO(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.release(ctx, keys, args...)
}
func (f *fakeRedis) ScriptExists(ctx context.Context, _ ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceCmd(ctx)
}
func (f *fakeRedis) ScriptLoad(ctx context.Context, _ string) *redis.StringCmd {
	return redis.NewStringCmd(ctx)
}

func (f *fakeRedis) has(key string) bool {
	f.Lock()
	defer f.Unlock()
	_, ok := f.data[key]
	return ok
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	l := NewRedisLocker(client, time.Minute, zap.NewNop())

	unlock, ok, err := l.TryLock(ctx, BotKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, client.has("smart-trade-bot:"+BotKey(1)))

	_, ok, err = l.TryLock(ctx, BotKey(1))
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	assert.False(t, client.has("smart-trade-bot:"+BotKey(1)))

	_, ok, err = l.TryLock(ctx, BotKey(1))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockerDoesNotReleaseForeignLock(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	l := NewRedisLocker(client, time.Minute, zap.NewNop())

	unlock, ok, err := l.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	// lock expired and another instance took it
	client.Lock()
	client.data["smart-trade-bot:k"] = "someone-else"
	client.Unlock()

	unlock()
	assert.True(t, client.has("smart-trade-bot:k"))
}
