package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mcpmux/proxy/pkg/backend"
	"github.com/mcpmux/proxy/pkg/logging"
	"github.com/mcpmux/proxy/pkg/pool"
)

// ToolHandler executes a proxy-native tool directly, bypassing backend
// dispatch entirely.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error)

// ResourceHandler reads a proxy-native resource's current content.
type ResourceHandler func(ctx context.Context) (json.RawMessage, error)

// ToolEntry is one catalog tool, namespaced for client visibility. Handler
// is set only for proxy-native tools (Backend == ""); aggregated backend
// tools are routed through their pool instead.
type ToolEntry struct {
	ExportedName string
	Backend      string
	LocalName    string
	Description  string
	Title        string
	InputSchema  map[string]interface{}
	OutputSchema map[string]interface{}
	Handler      ToolHandler
}

// ResourceEntry is one catalog resource, annotated with its backend.
// Handler is set only for proxy-native resources (Backend == "").
type ResourceEntry struct {
	URI     string
	Backend string
	Name    string
	Title   string
	Handler ResourceHandler
}

// PromptEntry is one catalog prompt, annotated with its backend.
type PromptEntry struct {
	Name    string
	Backend string
}

// Catalog is the unified, namespaced view of every Ready backend's
// capabilities plus the proxy's own native tools and resources. It is
// refreshed on a timer and on list_changed notifications, mirroring the
// teacher's "collect -> diff -> batch update" refresh cycle
// (internal/aggregator/server.go updateCapabilities), generalized from a
// single mcp-go server registration call to building an in-memory
// snapshot this proxy's own front-end server reads from.
type Catalog struct {
	namespacer *Namespacer

	mu        sync.RWMutex
	tools     map[string]ToolEntry
	resources map[string]ResourceEntry
	prompts   map[string]PromptEntry
	warm      bool
	updatedAt time.Time

	nativeTools     func() []ToolEntry
	nativeResources func() []ResourceEntry
}

// NewCatalog builds an empty Catalog. nativeTools/nativeResources supply
// the proxy-native entries described in §4.5.1 (tracing tools, quality
// resources); either may be nil.
func NewCatalog(prefix string, nativeTools func() []ToolEntry, nativeResources func() []ResourceEntry) *Catalog {
	return &Catalog{
		namespacer:      NewNamespacer(prefix),
		tools:           make(map[string]ToolEntry),
		resources:       make(map[string]ResourceEntry),
		prompts:         make(map[string]PromptEntry),
		nativeTools:     nativeTools,
		nativeResources: nativeResources,
	}
}

// Namespacer exposes the catalog's namespacer for dispatch.
func (c *Catalog) Namespacer() *Namespacer { return c.namespacer }

// Warm reports whether at least one successful refresh has populated the
// catalog.
func (c *Catalog) Warm() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.warm
}

// Tools returns a snapshot of every exported tool.
func (c *Catalog) Tools() []ToolEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolEntry, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	return out
}

// Resources returns a snapshot of every known resource.
func (c *Catalog) Resources() []ResourceEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ResourceEntry, 0, len(c.resources))
	for _, r := range c.resources {
		out = append(out, r)
	}
	return out
}

// LookupTool resolves an exported tool name back to its catalog entry.
func (c *Catalog) LookupTool(exported string) (ToolEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[exported]
	return t, ok
}

// LookupResource resolves a resource URI back to its catalog entry.
func (c *Catalog) LookupResource(uri string) (ResourceEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.resources[uri]
	return r, ok
}

// Prompts returns a snapshot of every known prompt.
func (c *Catalog) Prompts() []PromptEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PromptEntry, 0, len(c.prompts))
	for _, p := range c.prompts {
		out = append(out, p)
	}
	return out
}

// BackendLister is the subset of backend+pool state the catalog needs to
// refresh: one pool per Ready backend, keyed by name.
type BackendLister interface {
	ReadyPools() map[string]*pool.Pool
}

// Refresh rebuilds the catalog by querying every Ready backend's
// tools/resources/prompts lists in parallel via pool.FanOut, mirroring the
// teacher's per-server refreshServerCapabilities but fanned out instead of
// sequential, and tolerating individual backend failures by keeping that
// backend's previous entries rather than dropping the whole catalog.
func (c *Catalog) Refresh(ctx context.Context, pools map[string]*pool.Pool, list func(ctx context.Context, p *pool.Pool) (BackendCapabilities, error)) {
	results := pool.FanOut(ctx, pools, list)

	newTools := make(map[string]ToolEntry)
	newResources := make(map[string]ResourceEntry)
	newPrompts := make(map[string]PromptEntry)

	c.mu.RLock()
	prevTools, prevResources, prevPrompts := c.tools, c.resources, c.prompts
	c.mu.RUnlock()

	for name, result := range results {
		if result.Err != nil {
			logging.Warn("router.catalog", "refresh of %s failed: %v", name, result.Err)
			for exported, t := range prevTools {
				if t.Backend == name {
					newTools[exported] = t
				}
			}
			for uri, r := range prevResources {
				if r.Backend == name {
					newResources[uri] = r
				}
			}
			for pname, p := range prevPrompts {
				if p.Backend == name {
					newPrompts[pname] = p
				}
			}
			continue
		}
		for _, t := range result.Value.Tools {
			exported := c.namespacer.Export(name, t.LocalName)
			t.ExportedName = exported
			t.Backend = name
			newTools[exported] = t
		}
		for _, r := range result.Value.Resources {
			r.Backend = name
			newResources[r.URI] = r
		}
		for _, p := range result.Value.Prompts {
			p.Backend = name
			newPrompts[p.Name] = p
		}
	}

	if c.nativeTools != nil {
		for _, t := range c.nativeTools() {
			newTools[t.ExportedName] = t
		}
	}
	if c.nativeResources != nil {
		for _, r := range c.nativeResources() {
			newResources[r.URI] = r
		}
	}

	c.mu.Lock()
	c.tools = newTools
	c.resources = newResources
	c.prompts = newPrompts
	c.warm = true
	c.updatedAt = time.Now()
	c.mu.Unlock()
}

// BackendCapabilities is one backend's raw tools/resources/prompts list,
// as returned by the caller-supplied list function passed to Refresh.
type BackendCapabilities struct {
	Tools     []ToolEntry
	Resources []ResourceEntry
	Prompts   []PromptEntry
}

// ReadyBackendPools extracts the pool.Pool for every backend.Backend
// currently in the Ready state.
func ReadyBackendPools(backends map[string]*backend.Backend, pools map[string]*pool.Pool) map[string]*pool.Pool {
	out := make(map[string]*pool.Pool, len(backends))
	for name, b := range backends {
		if b.State() != backend.StateReady {
			continue
		}
		if p, ok := pools[name]; ok {
			out[name] = p
		}
	}
	return out
}
