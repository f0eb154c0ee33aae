package provenance

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provenance.sqlite")
	store, err := Open(path, HotTierConfig{MaxEntries: 100, MaxCostBytes: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedManifest(t *testing.T, store *Store, responseID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.PutContextUnit(ctx, ContextUnit{ID: "c1", SourceName: "docs", Content: "a", CreatedAt: time.Now()}))
	require.NoError(t, store.PutContextUnit(ctx, ContextUnit{ID: "c2", SourceName: "docs", Content: "b", CreatedAt: time.Now()}))
	require.NoError(t, store.PutLineageManifest(ctx, LineageManifest{
		ResponseID: responseID,
		Entries: []LineageEntry{
			{ContextUnitID: "c1", Weight: 0.6},
			{ContextUnitID: "c2", Weight: 0.4},
		},
	}))
}

// TestApplyFeedback_E6Scenario is the spec's literal E6 example: two
// contexts at weights 0.6/0.4 starting from a zero score, a first
// feedback submission of 1.0, then a resubmission of 0.5 that must
// replace rather than double-count.
func TestApplyFeedback_E6Scenario(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedManifest(t, store, "R")

	require.NoError(t, store.ApplyFeedback(ctx, "R", "user-1", 1.0, ""))

	c1, err := store.GetContextUnit(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, c1.AggregateScore, 1e-9)
	assert.Equal(t, 1, c1.FeedbackCount)

	c2, err := store.GetContextUnit(ctx, "c2")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, c2.AggregateScore, 1e-9)
	assert.Equal(t, 1, c2.FeedbackCount)

	require.NoError(t, store.ApplyFeedback(ctx, "R", "user-1", 0.5, ""))

	c1, err = store.GetContextUnit(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, c1.AggregateScore, 1e-9)
	assert.Equal(t, 1, c1.FeedbackCount, "resubmission must not double-count")

	c2, err = store.GetContextUnit(ctx, "c2")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, c2.AggregateScore, 1e-9)
	assert.Equal(t, 1, c2.FeedbackCount, "resubmission must not double-count")
}

func TestApplyFeedback_RejectsOutOfRangeScore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedManifest(t, store, "R")

	err := store.ApplyFeedback(ctx, "R", "user-1", 2.0, "")
	require.Error(t, err)
}

func TestApplyFeedback_RejectsDangerousText(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedManifest(t, store, "R")

	err := store.ApplyFeedback(ctx, "R", "user-1", 0.5, "<script>alert(1)</script>")
	require.Error(t, err)
}

func TestPutLineageManifest_RejectsWeightsNotSummingToOne(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.PutContextUnit(ctx, ContextUnit{ID: "c1", SourceName: "docs", CreatedAt: time.Now()}))

	err := store.PutLineageManifest(ctx, LineageManifest{
		ResponseID: "R2",
		Entries:    []LineageEntry{{ContextUnitID: "c1", Weight: 0.9}},
	})
	require.Error(t, err)
}

func TestGetContextUnit_PopulatesHotTierOnColdFallback(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.PutContextUnit(ctx, ContextUnit{ID: "c1", SourceName: "docs", Content: "x", CreatedAt: time.Now()}))

	store.hot.Invalidate("c1")
	_, ok := store.hot.Get("c1")
	require.False(t, ok)

	u, err := store.GetContextUnit(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", u.ID)

	_, ok = store.hot.Get("c1")
	assert.True(t, ok, "a cold-tier fallback should repopulate the hot tier")
}

func TestRenderManifest_TopKLimitsAndSortsByWeight(t *testing.T) {
	m := LineageManifest{
		ResponseID: "R",
		Entries: []LineageEntry{
			{ContextUnitID: "low", Weight: 0.1},
			{ContextUnitID: "high", Weight: 0.7},
			{ContextUnitID: "mid", Weight: 0.2},
		},
	}
	out, err := RenderManifest(m, RenderTopK, 2)
	require.NoError(t, err)
	assert.Equal(t, "high=0.700\nmid=0.200\n", out)
}

func TestRenderManifest_ASCIIOrdersByWeightDescending(t *testing.T) {
	m := LineageManifest{
		ResponseID: "R",
		Entries: []LineageEntry{
			{ContextUnitID: "low", Weight: 0.1},
			{ContextUnitID: "high", Weight: 0.7},
		},
	}
	out, err := RenderManifest(m, RenderASCII, 0)
	require.NoError(t, err)
	assert.Contains(t, out, "response R")
	assert.Contains(t, out, "high")
	assert.Contains(t, out, "low")
	assert.Less(t, strings.Index(out, "high"), strings.Index(out, "low"))
}
