// Package router implements the capability aggregator: it builds one
// unified tool/resource/prompt catalog out of every Ready backend,
// namespaces tool names so callers can always tell which backend a tool
// came from, and dispatches tools/call back to the right backend. This
// generalizes the teacher's NameTracker (internal/aggregator/name_tracker.go)
// from single-underscore collision-avoiding prefixes to the fixed
// double-underscore scheme `<prefix>__<backend>__<tool>`.
package router

import (
	"fmt"
	"strings"
)

// Namespacer builds and resolves namespaced tool names.
type Namespacer struct {
	prefix string
}

// NewNamespacer builds a Namespacer rooted at prefix (e.g. "mcp__proxy").
func NewNamespacer(prefix string) *Namespacer {
	return &Namespacer{prefix: prefix}
}

// Export produces the client-visible name for a tool named localName on
// backend.
func (n *Namespacer) Export(backend, localName string) string {
	return fmt.Sprintf("%s__%s__%s", n.prefix, backend, localName)
}

// Resolve splits a client-visible namespaced tool name back into its
// backend and local name. It returns ok=false (not an error) for any name
// that doesn't carry this proxy's prefix or doesn't parse into exactly
// three double-underscore-delimited segments, since the spec requires
// such mismatches to surface to the caller as MethodNotFound rather than
// an internal error.
func (n *Namespacer) Resolve(exported string) (backend, localName string, ok bool) {
	prefixMarker := n.prefix + "__"
	if !strings.HasPrefix(exported, prefixMarker) {
		return "", "", false
	}
	rest := strings.TrimPrefix(exported, prefixMarker)
	idx := strings.Index(rest, "__")
	if idx < 0 || idx == 0 {
		return "", "", false
	}
	backend = rest[:idx]
	localName = rest[idx+2:]
	if localName == "" {
		return "", "", false
	}
	return backend, localName, true
}

// AnnotateResourceURI and AnnotatePromptName express the spec's
// requirement that resource URIs and prompt names are not renamed but are
// tagged with their originating backend; the tag is carried alongside the
// catalog entry (see ResourceEntry.Backend and PromptEntry.Backend), not folded into the string
// itself, so these helpers exist only to make that choice explicit at call
// sites.
func (n *Namespacer) AnnotateResourceURI(uri string) string { return uri }
func (n *Namespacer) AnnotatePromptName(name string) string { return name }
