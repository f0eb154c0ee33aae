package frontend

import (
	"context"
	"encoding/json"

	"github.com/mcpmux/proxy/pkg/mcpwire"
	"github.com/mcpmux/proxy/pkg/router"
	mcpstrings "github.com/mcpmux/proxy/pkg/strings"
)

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

// handleInitialize negotiates the highest revision the proxy and the
// client have in common, per the spec's rule that the front-end
// advertises its highest supported revision and downgrades only if the
// client names an older known one explicitly — it never silently
// upgrades a client pinned to an older revision.
func (s *Server) handleInitialize(msg *mcpwire.Message) ([]byte, error) {
	var params initializeParams
	_ = msg.Params(&params)

	negotiated := mcpwire.V3
	requested := mcpwire.ProtocolVersion(params.ProtocolVersion)
	if requested.Known() {
		negotiated = requested
	}

	s.mu.Lock()
	s.clientVersion = negotiated
	s.mu.Unlock()

	result := map[string]interface{}{
		"protocolVersion": string(negotiated),
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{"listChanged": true},
			"resources": map[string]interface{}{"listChanged": true},
			"prompts":   map[string]interface{}{"listChanged": true},
		},
		"serverInfo": map[string]interface{}{
			"name":    "mcpmux-proxy",
			"version": "1.0.0",
		},
	}
	return s.result(msg, result)
}

// handleToolsList renders the aggregated catalog for the connecting
// client's negotiated revision. Each backend's tools were captured at
// whatever revision that backend itself negotiated (queryBackendCapabilities
// in cmd/mcpmux/serve.go), so an entry from a backend on a different
// revision than the client is routed through the same adapter registry
// handleToolsCall uses for results — translation happens once, at the
// point a list crosses from its owning backend's shape into the client's.
func (s *Server) handleToolsList(msg *mcpwire.Message) ([]byte, error) {
	tools := s.catalog.Tools()
	_, backends := s.snapshotPools()
	s.mu.RLock()
	clientVersion := s.clientVersion
	s.mu.RUnlock()

	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		entry := map[string]interface{}{
			"name":        t.ExportedName,
			"description": mcpstrings.TruncateDescription(t.Description, mcpstrings.DefaultDescriptionMaxLen),
			"inputSchema": t.InputSchema,
		}
		if t.Title != "" {
			entry["title"] = t.Title
		}
		if t.OutputSchema != nil {
			entry["outputSchema"] = t.OutputSchema
		}

		if b, ok := backends[t.Backend]; ok {
			if backVersion := b.Version(); backVersion.Known() && backVersion != clientVersion {
				entry = s.translateListEntry("tools", entry, clientVersion, backVersion)
			}
		}
		out = append(out, entry)
	}
	return s.result(msg, map[string]interface{}{"tools": out})
}

func (s *Server) handleResourcesList(msg *mcpwire.Message) ([]byte, error) {
	resources := s.catalog.Resources()
	_, backends := s.snapshotPools()
	s.mu.RLock()
	clientVersion := s.clientVersion
	s.mu.RUnlock()

	out := make([]map[string]interface{}, 0, len(resources))
	for _, r := range resources {
		entry := map[string]interface{}{
			"uri":  r.URI,
			"name": r.Name,
		}
		if r.Title != "" {
			entry["title"] = r.Title
		}

		if b, ok := backends[r.Backend]; ok {
			if backVersion := b.Version(); backVersion.Known() && backVersion != clientVersion {
				entry = s.translateListEntry("resources", entry, clientVersion, backVersion)
			}
		}
		out = append(out, entry)
	}
	return s.result(msg, map[string]interface{}{"resources": out})
}

// translateListEntry wraps a single list-result entry as the JSON-RPC
// response shape the adapter registry expects (a method-less response
// whose "result" carries the named list key), translates it from
// backVersion to front (clientVersion), and unwraps the translated entry.
// Falls back to entry unchanged if translation fails, since a single
// unrenderable backend entry shouldn't fail the whole list.
func (s *Server) translateListEntry(key string, entry map[string]interface{}, front, back mcpwire.ProtocolVersion) map[string]interface{} {
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      0,
		"result":  map[string]interface{}{key: []map[string]interface{}{entry}},
	})
	if err != nil {
		return entry
	}
	wrapped, err := mcpwire.ParseMessage(payload)
	if err != nil {
		return entry
	}
	translated, err := s.adapters.Translate(wrapped, front, back, false)
	if err != nil {
		return entry
	}
	resultRaw, ok := translated.Field("result")
	if !ok {
		return entry
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(resultRaw, &decoded); err != nil {
		return entry
	}
	itemsRaw, ok := decoded[key]
	if !ok {
		return entry
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(itemsRaw, &items); err != nil || len(items) != 1 {
		return entry
	}
	return items[0]
}

func (s *Server) handlePromptsList(msg *mcpwire.Message) ([]byte, error) {
	prompts := s.catalog.Prompts()
	out := make([]map[string]interface{}, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, map[string]interface{}{"name": p.Name})
	}
	return s.result(msg, map[string]interface{}{"prompts": out})
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

func (s *Server) handleResourcesRead(ctx context.Context, msg *mcpwire.Message) ([]byte, error) {
	var params resourceReadParams
	if err := msg.Params(&params); err != nil || params.URI == "" {
		return s.errorResponse(msg, router_MethodNotFound, "invalid resources/read params")
	}

	pools, _ := s.snapshotPools()
	clientID, _ := msg.ID()
	defer s.clearInFlight(string(clientID))
	result, err := router.DispatchResourceRead(ctx, s.catalog, pools, params.URI, s.trackInFlight(string(clientID)))
	if err != nil {
		return s.errorResponseFromErr(msg, err)
	}
	return s.resultRaw(msg, result)
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// handleToolsCall dispatches a namespaced tool call through the router,
// translating the result back to the client's negotiated revision if the
// backend negotiated a different one.
func (s *Server) handleToolsCall(ctx context.Context, msg *mcpwire.Message) ([]byte, error) {
	var params toolCallParams
	if err := msg.Params(&params); err != nil {
		return s.errorResponse(msg, router_MethodNotFound, "invalid tools/call params")
	}

	pools, backends := s.snapshotPools()
	clientID, _ := msg.ID()
	defer s.clearInFlight(string(clientID))
	result, err := router.Dispatch(ctx, s.catalog, pools, params.Name, params.Arguments, s.trackInFlight(string(clientID)))
	if err != nil {
		return s.errorResponseFromErr(msg, err)
	}

	entry, _ := s.catalog.LookupTool(params.Name)
	if b, ok := backends[entry.Backend]; ok {
		s.mu.RLock()
		front := s.clientVersion
		s.mu.RUnlock()
		backVersion := b.Version()
		if backVersion.Known() && backVersion != front {
			translated, terr := s.adapters.Translate(wrapResult(result), front, backVersion, false)
			if terr == nil {
				if raw, ok := translated.Field("result"); ok {
					result = raw
				}
			}
		}
	}

	return s.resultRaw(msg, result)
}

func wrapResult(result json.RawMessage) *mcpwire.Message {
	frame, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      0,
		"result":  result,
	})
	m, _ := mcpwire.ParseMessage(frame)
	return m
}

func (s *Server) resultRaw(req *mcpwire.Message, result json.RawMessage) ([]byte, error) {
	id, _ := req.ID()
	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(id),
		"result":  result,
	}
	return json.Marshal(resp)
}

func (s *Server) errorResponseFromErr(req *mcpwire.Message, err error) ([]byte, error) {
	code := router_MethodNotFound
	return s.errorResponse(req, code, err.Error())
}
