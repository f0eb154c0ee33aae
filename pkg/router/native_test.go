package router

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/proxy/pkg/feedback"
	"github.com/mcpmux/proxy/pkg/pool"
	"github.com/mcpmux/proxy/pkg/provenance"
)

func newNativeTestStore(t *testing.T) *provenance.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provenance.sqlite")
	store, err := provenance.Open(path, provenance.HotTierConfig{MaxEntries: 100, MaxCostBytes: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedNativeManifest(t *testing.T, store *provenance.Store, responseID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.PutContextUnit(ctx, provenance.ContextUnit{ID: "c1", SourceName: "docs", Content: "a", CreatedAt: time.Now()}))
	require.NoError(t, store.PutLineageManifest(ctx, provenance.LineageManifest{
		ResponseID: responseID,
		Entries:    []provenance.LineageEntry{{ContextUnitID: "c1", Weight: 1.0}},
	}))
}

func TestNativeTools_RegistersAllFiveTracingTools(t *testing.T) {
	store := newNativeTestStore(t)
	engine := feedback.NewEngine(store)
	tools := NativeTools(store, engine)()

	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool.ExportedName] = true
		assert.Empty(t, tool.Backend, "native tools carry no backend")
		assert.NotNil(t, tool.Handler)
	}
	for _, want := range []string{"get-trace", "query-context-impact", "get-response-contexts", "get-evolution-history", "submit-feedback"} {
		assert.True(t, names[want], "missing native tool %s", want)
	}
}

func TestNativeTools_SubmitFeedbackThenGetTrace(t *testing.T) {
	ctx := context.Background()
	store := newNativeTestStore(t)
	engine := feedback.NewEngine(store)
	seedNativeManifest(t, store, "R")

	tools := NativeTools(store, engine)()
	var submit, trace ToolEntry
	for _, tool := range tools {
		switch tool.ExportedName {
		case "submit-feedback":
			submit = tool
		case "get-trace":
			trace = tool
		}
	}

	_, err := submit.Handler(ctx, map[string]interface{}{
		"response_id": "R", "user_id": "u1", "score": 0.8,
	})
	require.NoError(t, err)

	raw, err := trace.Handler(ctx, map[string]interface{}{"response_id": "R"})
	require.NoError(t, err)
	var decoded struct {
		Feedback []struct {
			UserID string `json:"UserID"`
		} `json:"feedback"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Feedback, 1)
	assert.Equal(t, "u1", decoded.Feedback[0].UserID)
}

func TestNativeTools_SubmitFeedbackRejectsOutOfRangeScore(t *testing.T) {
	ctx := context.Background()
	store := newNativeTestStore(t)
	engine := feedback.NewEngine(store)
	seedNativeManifest(t, store, "R")

	tools := NativeTools(store, engine)()
	var submit ToolEntry
	for _, tool := range tools {
		if tool.ExportedName == "submit-feedback" {
			submit = tool
		}
	}

	_, err := submit.Handler(ctx, map[string]interface{}{
		"response_id": "R", "user_id": "u1", "score": 5.0,
	})
	assert.Error(t, err)
}

func TestNativeResources_RegistersAllFourQualityResources(t *testing.T) {
	store := newNativeTestStore(t)
	resources := NativeResources(store)()

	uris := make(map[string]bool)
	for _, r := range resources {
		uris[r.URI] = true
		assert.NotNil(t, r.Handler)
	}
	for _, want := range []string{
		"quality://top-rated-contexts",
		"quality://deprecated-contexts",
		"quality://recent-feedback",
		"quality://cache-statistics",
	} {
		assert.True(t, uris[want], "missing native resource %s", want)
	}
}

func TestDispatch_RoutesNativeToolWithoutABackendPool(t *testing.T) {
	ctx := context.Background()
	store := newNativeTestStore(t)
	engine := feedback.NewEngine(store)
	seedNativeManifest(t, store, "R")

	catalog := NewCatalog("mcp__proxy", NativeTools(store, engine), nil)
	catalog.Refresh(ctx, map[string]*pool.Pool{}, func(ctx context.Context, p *pool.Pool) (BackendCapabilities, error) {
		return BackendCapabilities{}, nil
	})

	_, err := Dispatch(ctx, catalog, map[string]*pool.Pool{}, "get-response-contexts", map[string]interface{}{"response_id": "R"}, nil)
	require.NoError(t, err)
}
