// Package adapter implements protocol-version translation between the
// front-end's negotiated MCP revision and each backend's negotiated
// revision. Translation is an exhaustive match over the closed
// {V1,V2,V3} enumeration — the same "small exhaustive switch" dispatch
// style the proxy uses for transport and backend-type selection — rather
// than a generic schema-diff engine, because the set of revisions is fixed
// at compile time.
package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/mcpmux/proxy/pkg/mcperr"
	"github.com/mcpmux/proxy/pkg/mcpwire"
)

// Adapter translates a single message between two protocol revisions.
// Direction matters: ToBackend rewrites a message produced for From so it
// is valid for To; ToFrontend performs the inverse.
type Adapter interface {
	From() mcpwire.ProtocolVersion
	To() mcpwire.ProtocolVersion

	// ToBackend rewrites a message from the From revision to the To
	// revision, dropping or downgrading fields the backend cannot accept.
	ToBackend(msg *mcpwire.Message) (*mcpwire.Message, error)

	// ToFrontend rewrites a message from the To revision back to the From
	// revision, upgrading or synthesizing fields the front-end expects.
	ToFrontend(msg *mcpwire.Message) (*mcpwire.Message, error)
}

// Registry holds one Adapter per (from, to) revision pair. A message
// exchanged between two backends on the same revision as the front-end
// never reaches the registry at all — the pool forwards such frames
// untouched, satisfying the pass-through law (same-version traffic is
// never rewritten).
type Registry struct {
	adapters map[pairKey]Adapter
}

type pairKey struct {
	from mcpwire.ProtocolVersion
	to   mcpwire.ProtocolVersion
}

// NewRegistry builds a Registry pre-populated with adapters for every
// distinct ordered pair drawn from {V1, V2, V3}.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[pairKey]Adapter)}
	versions := []mcpwire.ProtocolVersion{mcpwire.V1, mcpwire.V2, mcpwire.V3}
	for _, from := range versions {
		for _, to := range versions {
			if from == to {
				continue
			}
			r.adapters[pairKey{from, to}] = newVersionAdapter(from, to)
		}
	}
	return r
}

// Lookup returns the adapter translating between from and to, or nil if
// the pair is identity (from == to) or unknown.
func (r *Registry) Lookup(from, to mcpwire.ProtocolVersion) Adapter {
	if from == to {
		return nil
	}
	return r.adapters[pairKey{from, to}]
}

// Translate rewrites msg from the frontVersion wire shape to the
// backVersion wire shape, or returns msg unmodified if the versions match
// (the pass-through law). toBackend selects direction: true rewrites a
// client-originated message for the backend, false rewrites a
// backend-originated message for the client.
func (r *Registry) Translate(msg *mcpwire.Message, frontVersion, backVersion mcpwire.ProtocolVersion, toBackend bool) (*mcpwire.Message, error) {
	if frontVersion == backVersion {
		return msg, nil
	}
	if !frontVersion.Known() || !backVersion.Known() {
		return nil, mcperr.New(mcperr.KindProtocol, "adapter.Translate",
			fmt.Sprintf("unsupported protocol version pair %s/%s", frontVersion, backVersion))
	}

	// Both directions share the same (frontVersion, backVersion) adapter:
	// ToBackend rewrites frontVersion-shaped messages into backVersion's
	// shape, ToFrontend performs the inverse, so the client-visible target
	// version is always whichever end the translation is heading toward.
	a := r.Lookup(frontVersion, backVersion)
	if a == nil {
		return nil, mcperr.New(mcperr.KindProtocol, "adapter.Translate",
			fmt.Sprintf("no adapter registered for %s -> %s", frontVersion, backVersion))
	}
	if toBackend {
		return a.ToBackend(msg)
	}
	return a.ToFrontend(msg)
}

// newVersionAdapter builds the adapter for one (from, to) ordered pair.
// Every pair shares the same genericAdapter implementation, parameterized
// by the two revisions' capability tables, because the translation rules
// are themselves derived mechanically from those tables (§ field-level
// rules below) rather than requiring one handwritten type per pair.
func newVersionAdapter(from, to mcpwire.ProtocolVersion) Adapter {
	return &genericAdapter{from: from, to: to}
}

type genericAdapter struct {
	from mcpwire.ProtocolVersion
	to   mcpwire.ProtocolVersion
}

func (a *genericAdapter) From() mcpwire.ProtocolVersion { return a.from }
func (a *genericAdapter) To() mcpwire.ProtocolVersion   { return a.to }

// ToBackend downgrades/upgrades a message produced under `from` into the
// shape `to` expects.
func (a *genericAdapter) ToBackend(msg *mcpwire.Message) (*mcpwire.Message, error) {
	return translateFields(msg, a.from, a.to)
}

// ToFrontend performs the inverse translation, `to` back to `from`.
func (a *genericAdapter) ToFrontend(msg *mcpwire.Message) (*mcpwire.Message, error) {
	return translateFields(msg, a.to, a.from)
}

// translateFields applies the field-level rewrite rules for moving a
// message from the `from` revision's wire shape to the `to` revision's
// wire shape. Unknown/unrelated fields are preserved verbatim because
// Message stores fields as raw JSON, not a fixed struct — this is what
// gives the adapter its round-trip law on the schema intersection: any
// field both revisions share passes through byte-identical.
//
// A request's method names what it is; a response carries no "method" at
// all (mcpwire.Message.Method returns ""), so a tools/list or
// resources/list result can only be told apart from a tools/call result
// by which keys its own payload carries — hence the fallback dispatch on
// the decoded result shape rather than on method for every method-less
// message.
func translateFields(msg *mcpwire.Message, from, to mcpwire.ProtocolVersion) (*mcpwire.Message, error) {
	out := msg.Clone()

	switch method := out.Method(); method {
	case "initialize":
		if err := rewriteInitialize(out, from, to); err != nil {
			return nil, err
		}
	case "tools/call":
		rewriteContent(out, to)
	case "tools/list", "prompts/list", "resources/list":
		rewriteListResultForKey(out, listResultKey(method), to)
	default:
		if key, ok := responseListKey(out); ok {
			rewriteListResultForKey(out, key, to)
		} else {
			rewriteContent(out, to)
		}
	}

	return out, nil
}

// responseListKey reports which list-result key ("tools", "resources", or
// "prompts") a method-less response's "result" payload carries, if any.
func responseListKey(msg *mcpwire.Message) (string, bool) {
	result, ok := msg.Field("result")
	if !ok {
		return "", false
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(result, &decoded); err != nil {
		return "", false
	}
	for _, key := range []string{"tools", "resources", "prompts"} {
		if _, has := decoded[key]; has {
			return key, true
		}
	}
	return "", false
}

// rewriteInitialize adjusts the negotiated protocolVersion field itself so
// a downgraded backend is told the revision it actually supports.
func rewriteInitialize(msg *mcpwire.Message, from, to mcpwire.ProtocolVersion) error {
	params, ok := msg.Field("params")
	if !ok {
		return nil
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(params, &decoded); err != nil {
		return mcperr.Wrap(mcperr.KindProtocol, "adapter.rewriteInitialize", err, "decoding initialize params")
	}
	versionJSON, err := json.Marshal(string(to))
	if err != nil {
		return err
	}
	decoded["protocolVersion"] = versionJSON
	reencoded, err := json.Marshal(decoded)
	if err != nil {
		return err
	}
	msg.SetField("params", reencoded)
	return nil
}

// rewriteContent strips content block kinds the target revision does not
// understand (e.g. audio content moving from V2/V3 down to V1) from
// whichever of "params"/"result" carries a content array, and strips
// structuredContent when the target predates it.
func rewriteContent(msg *mcpwire.Message, to mcpwire.ProtocolVersion) {
	for _, field := range []string{"params", "result"} {
		raw, ok := msg.Field(field)
		if !ok {
			continue
		}
		var decoded map[string]json.RawMessage
		if err := json.Unmarshal(raw, &decoded); err != nil {
			continue
		}
		changed := false
		if !to.SupportsStructuredContent() {
			if _, has := decoded["structuredContent"]; has {
				delete(decoded, "structuredContent")
				changed = true
			}
		}
		if contentRaw, has := decoded["content"]; has {
			if filtered, didChange := filterContentBlocks(contentRaw, to); didChange {
				decoded["content"] = filtered
				changed = true
			}
		}
		if changed {
			if reencoded, err := json.Marshal(decoded); err == nil {
				msg.SetField(field, reencoded)
			}
		}
	}
}

// filterContentBlocks drops audio blocks from a content array when the
// target revision lacks audio support, preserving the rest of the array.
func filterContentBlocks(raw json.RawMessage, to mcpwire.ProtocolVersion) (json.RawMessage, bool) {
	if to.SupportsAudioContent() {
		return raw, false
	}
	var blocks []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return raw, false
	}
	kept := make([]map[string]json.RawMessage, 0, len(blocks))
	removed := false
	for _, b := range blocks {
		typeRaw, ok := b["type"]
		if ok {
			var t string
			_ = json.Unmarshal(typeRaw, &t)
			if t == "audio" {
				removed = true
				continue
			}
		}
		kept = append(kept, b)
	}
	if !removed {
		return raw, false
	}
	reencoded, err := json.Marshal(kept)
	if err != nil {
		return raw, false
	}
	return reencoded, true
}

// rewriteListResultForKey strips descriptor fields the target revision does
// not define (title, outputSchema) from each entry of a
// tools/prompts/resources list result keyed by key ("tools", "prompts", or
// "resources"), and synthesizes a "name" for resources that lack one when
// moving to a revision that requires it.
func rewriteListResultForKey(msg *mcpwire.Message, key string, to mcpwire.ProtocolVersion) {
	if key == "" {
		return
	}
	result, ok := msg.Field("result")
	if !ok {
		return
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(result, &decoded); err != nil {
		return
	}

	itemsRaw, ok := decoded[key]
	if !ok {
		return
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(itemsRaw, &items); err != nil {
		return
	}

	for _, item := range items {
		if !to.SupportsTitleField() {
			delete(item, "title")
		}
		if !to.SupportsOutputSchema() {
			delete(item, "outputSchema")
		}
		if key == "resources" && to.RequiresResourceName() {
			if _, has := item["name"]; !has {
				if uriRaw, hasURI := item["uri"]; hasURI {
					item["name"] = uriRaw
				}
			}
		}
	}

	reencoded, err := json.Marshal(items)
	if err != nil {
		return
	}
	decoded[key] = reencoded
	if reencodedResult, err := json.Marshal(decoded); err == nil {
		msg.SetField("result", reencodedResult)
	}
}

func listResultKey(method string) string {
	switch method {
	case "tools/list":
		return "tools"
	case "prompts/list":
		return "prompts"
	case "resources/list":
		return "resources"
	default:
		return ""
	}
}
