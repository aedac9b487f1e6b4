package lock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	unlock, ok, err := l.TryLock(ctx, BotKey(1))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, BotKey(1))
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	other, ok, err := l.TryLock(ctx, BotKey(2))
	require.NoError(t, err)
	assert.True(t, ok, "other bots are independent")
	other()

	unlock()
	unlock() // idempotent

	again, ok, err := l.TryLock(ctx, BotKey(1))
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestMemoryLockerConcurrent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := l.TryLock(ctx, "k"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, 1, wins)
}
