package trail

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewBus(client)
}

func TestAppendAndRecent(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	_, err := bus.Append(ctx, "sess-1", "requirements_in_progress", map[string]any{
		"event":    "provider_call",
		"provider": "deepseek",
	})
	require.NoError(t, err)

	_, err = bus.Append(ctx, "sess-1", "requirements_review", map[string]any{
		"event": "stage_change",
	})
	require.NoError(t, err)

	entries, err := bus.Recent(ctx, "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "requirements_in_progress", entries[0].Stage)
	require.Equal(t, "provider_call", entries[0].Values["event"])
	require.Equal(t, "stage_change", entries[1].Values["event"])
	require.NotEmpty(t, entries[0].Values["ts"])
}

func TestTailReadsFromStart(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	id, err := bus.Append(ctx, "sess-2", "created", map[string]any{"event": "stage_change"})
	require.NoError(t, err)

	entries, nextID, err := bus.Tail(ctx, "sess-2", "0")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, id, nextID)
	require.Equal(t, "sess-2", entries[0].SessionID)
}

func TestSessionStreamsAreIsolated(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	_, err := bus.Append(ctx, "sess-a", "created", map[string]any{"event": "a"})
	require.NoError(t, err)
	_, err = bus.Append(ctx, "sess-b", "created", map[string]any{"event": "b"})
	require.NoError(t, err)

	entries, err := bus.Recent(ctx, "sess-a", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a", entries[0].Values["event"])
}

func TestAppendRequiresSession(t *testing.T) {
	bus := newTestBus(t)
	_, err := bus.Append(context.Background(), "  ", "created", nil)
	require.Error(t, err)
}

func TestConcurrentAppendsAllLand(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(n int) {
			_, err := bus.Append(ctx, "sess-c", "requirements_in_progress", map[string]any{"n": n})
			done <- err
		}(i)
	}
	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for appends")
		}
	}

	entries, err := bus.Recent(ctx, "sess-c", 50)
	require.NoError(t, err)
	require.Len(t, entries, 20)
}
