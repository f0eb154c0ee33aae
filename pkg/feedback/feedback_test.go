package feedback

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/proxy/pkg/provenance"
)

func TestEngine_SubmitAppliesAndRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store, err := provenance.Open(filepath.Join(t.TempDir(), "p.sqlite"), provenance.HotTierConfig{MaxEntries: 10, MaxCostBytes: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.PutContextUnit(ctx, provenance.ContextUnit{ID: "c1", SourceName: "docs", CreatedAt: time.Now()}))
	require.NoError(t, store.PutLineageManifest(ctx, provenance.LineageManifest{
		ResponseID: "R",
		Entries:    []provenance.LineageEntry{{ContextUnitID: "c1", Weight: 1.0}},
	}))

	engine := NewEngine(store)
	require.NoError(t, engine.Submit(ctx, "R", "user-1", 0.8, "nice"))

	c1, err := store.GetContextUnit(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, c1.AggregateScore, 1e-9)

	err = engine.Submit(ctx, "R", "user-1", 5.0, "")
	assert.Error(t, err)
}
