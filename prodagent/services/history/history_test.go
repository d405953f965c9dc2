package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/types"
)

type brokenStore struct{ *MemoryStore }

func (brokenStore) Load(context.Context, string, int) ([]types.Turn, error) {
	return nil, errors.New("db down")
}

func (brokenStore) Append(context.Context, Meta, []types.Turn) ([]types.Turn, error) {
	return nil, errors.New("db down")
}

func TestLoadHistoryWindow(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	meta := Meta{SessionID: "s", Mode: types.ModePrePurchase}
	for i := 0; i < 5; i++ {
		_, err := svc.AppendTurns(ctx, meta,
			types.Turn{Role: types.RoleUser, Content: "q"},
			types.Turn{Role: types.RoleAssistant, Content: "a"})
		require.NoError(t, err)
	}

	window := svc.LoadHistory(ctx, "s", 6)
	require.Len(t, window, 6)
	assert.Equal(t, 5, window[0].Seq)
	assert.Equal(t, 10, window[5].Seq)

	all, err := svc.FullHistory(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestStorageFailures(t *testing.T) {
	ctx := context.Background()
	svc := NewService(brokenStore{NewMemoryStore()})

	assert.Empty(t, svc.LoadHistory(ctx, "s", 6))

	_, err := svc.AppendTurns(ctx, Meta{SessionID: "s"}, types.Turn{Role: types.RoleUser, Content: "q"})
	assert.True(t, errors.Is(err, apperr.ErrPersistenceUnavailable))

	_, err = svc.FullHistory(ctx, "s")
	assert.Equal(t, apperr.KindPersistenceUnavailable, apperr.KindOf(err))
}

func TestAppendSurvivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := NewService(NewMemoryStore())
	saved, err := svc.AppendTurns(ctx, Meta{SessionID: "s"}, types.Turn{Role: types.RoleUser, Content: "q"})
	require.NoError(t, err)
	require.Len(t, saved, 1)
}

func TestLockSerializesAndCleansUp(t *testing.T) {
	svc := NewService(NewMemoryStore())
	unlock, err := svc.Lock(context.Background(), "s")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		release, err := svc.Lock(context.Background(), "s")
		assert.NoError(t, err)
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	<-acquired

	assert.Eventually(t, func() bool { return svc.locks.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestLockGivesUpWhenContextEnds(t *testing.T) {
	svc := NewService(NewMemoryStore())
	unlock, err := svc.Lock(context.Background(), "s")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Lock(ctx, "s")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, svc.locks.Count(), "waiters that gave up release their reference")

	unlock, err = svc.Lock(context.Background(), "s")
	require.NoError(t, err)
	unlock()
}

func TestConcurrentPairsStayAdjacent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())
	meta := Meta{SessionID: "s"}

	var wg sync.WaitGroup
	for _, q := range []string{"x", "y"} {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			unlock, err := svc.Lock(ctx, "s")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			_ = svc.LoadHistory(ctx, "s", 6)
			_, err = svc.AppendTurns(ctx, meta,
				types.Turn{Role: types.RoleUser, Content: q},
				types.Turn{Role: types.RoleAssistant, Content: q + "!"})
			assert.NoError(t, err)
		}(q)
	}
	wg.Wait()

	all, err := svc.FullHistory(ctx, "s")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, all[0].Content+"!", all[1].Content)
	assert.Equal(t, all[2].Content+"!", all[3].Content)
}

func TestModeAndConversations(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	_, ok := svc.StoredMode(ctx, "s")
	assert.False(t, ok)

	require.NoError(t, svc.SetMode(ctx, "s", types.ModePostPurchase))
	mode, ok := svc.StoredMode(ctx, "s")
	assert.True(t, ok)
	assert.Equal(t, types.ModePostPurchase, mode)

	_, err := svc.AppendTurns(ctx, Meta{SessionID: "t", UserID: "u", ModelID: "M"}, types.Turn{Role: types.RoleUser, Content: "q"})
	require.NoError(t, err)
	list, err := svc.Conversations(ctx, "u", "", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].MessageCount)
}
