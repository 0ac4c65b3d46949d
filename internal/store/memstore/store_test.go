package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/model/relationship"
	"github.com/zhouzirui/z-companion/backend/internal/store"
)

func TestGetProfileCreatesFirstContact(t *testing.T) {
	s := New()
	p, err := s.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, relationship.TierFree, p.Subscription)
	assert.Equal(t, relationship.FirstContact, p.Stage())

	_, err = s.GetProfile(context.Background(), "")
	assert.ErrorIs(t, err, store.ErrUserRequired)
}

func TestUpdateTrustClampsAndCounts(t *testing.T) {
	s := New(relationship.Profile{UserID: "u1", TrustLevel: 99.5})
	ctx := context.Background()

	trust, err := s.UpdateTrust(ctx, "u1", 0.9)
	require.NoError(t, err)
	assert.Equal(t, 100.0, trust)

	trust, err = s.UpdateTrust(ctx, "u2", -0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, trust)

	p, _ := s.GetProfile(ctx, "u1")
	assert.Equal(t, 1, p.InteractionCount)
	assert.Equal(t, relationship.EternalBond, p.Stage())
}

func TestConcurrentTrustUpdatesAreNotLost(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpdateTrust(ctx, "u1", 0.5)
		}()
	}
	wg.Wait()

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 25.0, p.TrustLevel, 1e-9)
	assert.Equal(t, 50, p.InteractionCount)
}

func TestFindMemoriesFiltersAndOrders(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.WriteMemory(ctx, memory.Memory{UserID: "u1", Content: "old", Significance: 5, CreatedAt: base}))
	require.NoError(t, s.WriteMemory(ctx, memory.Memory{UserID: "u1", Content: "faint", Significance: 2, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.WriteMemory(ctx, memory.Memory{UserID: "u1", Content: "new", Significance: 6, CreatedAt: base.Add(2 * time.Hour)}))
	require.NoError(t, s.WriteMemory(ctx, memory.Memory{UserID: "u2", Content: "other", Significance: 9}))

	got, err := s.FindMemories(ctx, memory.Filter{UserID: "u1", MinSignificance: 3})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Content)
	assert.Equal(t, "old", got[1].Content)
	assert.NotEmpty(t, got[0].ID)

	limited, err := s.FindMemories(ctx, memory.Filter{UserID: "u1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "new", limited[0].Content)

	assert.ErrorIs(t, s.WriteMemory(ctx, memory.Memory{UserID: "u1"}), store.ErrMemoryRequired)
}

func TestRecordConversion(t *testing.T) {
	s := New()
	at := time.Now()
	require.NoError(t, s.RecordConversion(context.Background(), "u1", at))
	assert.Equal(t, []time.Time{at}, s.Conversions("u1"))
}

func TestLastConversion(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, ok, err := s.LastConversion(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Now()
	require.NoError(t, s.RecordConversion(ctx, "u1", at))
	require.NoError(t, s.RecordConversion(ctx, "u1", at.Add(-time.Hour)))
	last, ok, err := s.LastConversion(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, at, last)

	_, _, err = s.LastConversion(ctx, "")
	assert.ErrorIs(t, err, store.ErrUserRequired)
}
