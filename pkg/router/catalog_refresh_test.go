package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/proxy/pkg/pool"
)

// noopDriver never produces frames; Refresh's list function is stubbed
// directly in these tests, so the pool underneath each name is never
// actually read from or written to.
type noopDriver struct{ blocked chan struct{} }

func newNoopDriver() *noopDriver { return &noopDriver{blocked: make(chan struct{})} }

func (d *noopDriver) Send(ctx context.Context, frame []byte) error { return nil }
func (d *noopDriver) Recv(ctx context.Context) ([]byte, error) {
	<-d.blocked
	return nil, errors.New("closed")
}
func (d *noopDriver) Close() error { close(d.blocked); return nil }

func TestCatalog_Refresh_MergesNativeAndBackendEntriesAndMarksWarm(t *testing.T) {
	pa := pool.New("a", newNoopDriver())
	defer pa.Close()

	list := func(ctx context.Context, p *pool.Pool) (BackendCapabilities, error) {
		return BackendCapabilities{
			Tools:     []ToolEntry{{LocalName: "frobnicate", Description: "frobnicates"}},
			Resources: []ResourceEntry{{URI: "file:///a", Name: "A"}},
		}, nil
	}

	nativeCalled := false
	cat := NewCatalog("mcp", func() []ToolEntry {
		nativeCalled = true
		return []ToolEntry{{ExportedName: "get-trace", Description: "native tracing tool"}}
	}, func() []ResourceEntry {
		return []ResourceEntry{{URI: "quality://top-rated-contexts", Name: "Top rated"}}
	})

	assert.False(t, cat.Warm())

	cat.Refresh(context.Background(), map[string]*pool.Pool{"a": pa}, list)

	assert.True(t, cat.Warm())
	assert.True(t, nativeCalled)

	tools := cat.Tools()
	names := make(map[string]bool)
	for _, tl := range tools {
		names[tl.ExportedName] = true
	}
	assert.True(t, names["mcp__a__frobnicate"])
	assert.True(t, names["get-trace"])

	_, ok := cat.LookupResource("file:///a")
	assert.True(t, ok)
	_, ok = cat.LookupResource("quality://top-rated-contexts")
	assert.True(t, ok)
}

func TestCatalog_Refresh_KeepsPreviousEntriesForAFailingBackendOnly(t *testing.T) {
	pa := pool.New("a", newNoopDriver())
	pb := pool.New("b", newNoopDriver())
	defer pa.Close()
	defer pb.Close()

	pools := map[string]*pool.Pool{"a": pa, "b": pb}

	// First refresh: both backends healthy.
	firstList := func(ctx context.Context, p *pool.Pool) (BackendCapabilities, error) {
		if p == pa {
			return BackendCapabilities{Tools: []ToolEntry{{LocalName: "toolA", Description: "v1"}}}, nil
		}
		return BackendCapabilities{Tools: []ToolEntry{{LocalName: "toolB", Description: "v1"}}}, nil
	}

	cat := NewCatalog("mcp", nil, nil)
	cat.Refresh(context.Background(), pools, firstList)

	toolA, ok := cat.LookupTool("mcp__a__toolA")
	require.True(t, ok)
	assert.Equal(t, "v1", toolA.Description)

	// Second refresh: "a" fails, "b" returns an updated tool set.
	secondList := func(ctx context.Context, p *pool.Pool) (BackendCapabilities, error) {
		if p == pa {
			return BackendCapabilities{}, errors.New("backend a unreachable")
		}
		return BackendCapabilities{Tools: []ToolEntry{{LocalName: "toolB", Description: "v2"}}}, nil
	}
	cat.Refresh(context.Background(), pools, secondList)

	// "a"'s previous entry survives the failed refresh rather than
	// vanishing from the catalog.
	toolA, ok = cat.LookupTool("mcp__a__toolA")
	require.True(t, ok, "failed backend should retain its last-known tools")
	assert.Equal(t, "v1", toolA.Description)

	toolB, ok := cat.LookupTool("mcp__b__toolB")
	require.True(t, ok)
	assert.Equal(t, "v2", toolB.Description)
}

func TestCatalog_Prompts_ReturnsRefreshedSnapshot(t *testing.T) {
	pa := pool.New("a", newNoopDriver())
	defer pa.Close()

	list := func(ctx context.Context, p *pool.Pool) (BackendCapabilities, error) {
		return BackendCapabilities{Prompts: []PromptEntry{{Name: "summarize"}}}, nil
	}
	cat := NewCatalog("mcp", nil, nil)
	assert.Empty(t, cat.Prompts())

	cat.Refresh(context.Background(), map[string]*pool.Pool{"a": pa}, list)

	prompts := cat.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, "summarize", prompts[0].Name)
	assert.Equal(t, "a", prompts[0].Backend)
}
