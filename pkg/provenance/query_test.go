package provenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopRatedAndDeprecatedContexts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.PutContextUnit(ctx, ContextUnit{ID: "good", SourceName: "docs", AggregateScore: 0.9, CreatedAt: time.Now()}))
	require.NoError(t, store.PutContextUnit(ctx, ContextUnit{ID: "bad", SourceName: "docs", AggregateScore: -0.8, CreatedAt: time.Now()}))
	require.NoError(t, store.PutContextUnit(ctx, ContextUnit{ID: "mid", SourceName: "docs", AggregateScore: 0.0, CreatedAt: time.Now()}))

	top, err := store.TopRatedContexts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "good", top[0].ID)

	deprecated, err := store.DeprecatedContexts(ctx, DefaultDeprecationThreshold, 10)
	require.NoError(t, err)
	require.Len(t, deprecated, 1)
	assert.Equal(t, "bad", deprecated[0].ID)
}

func TestGetTrace_ReturnsManifestAndFeedbackHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedManifest(t, store, "R")
	require.NoError(t, store.ApplyFeedback(ctx, "R", "user-1", 1.0, "great"))

	manifest, feedback, err := store.GetTrace(ctx, "R")
	require.NoError(t, err)
	assert.Len(t, manifest.Entries, 2)
	require.Len(t, feedback, 1)
	assert.Equal(t, "user-1", feedback[0].UserID)
}

func TestQueryContextImpact_ListsContributingResponses(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedManifest(t, store, "R")

	impact, err := store.QueryContextImpact(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", impact.Unit.ID)
	require.Len(t, impact.Responses, 1)
	assert.InDelta(t, 0.6, impact.Responses[0].Weight, 1e-9)
}

func TestCacheStatistics_ReflectsWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.PutContextUnit(ctx, ContextUnit{ID: "c1", SourceName: "docs", CreatedAt: time.Now()}))
	store.hot.cache.Wait() // ristretto admits asynchronously; flush before reading metrics

	stats := store.CacheStatistics()
	assert.GreaterOrEqual(t, stats.KeysAdded, uint64(1))
}
