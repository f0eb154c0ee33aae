package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpmux/proxy/pkg/mcperr"
	"github.com/mcpmux/proxy/pkg/pool"
)

// DefaultRefreshInterval mirrors the spec's default 60-second warm-cache
// refresh cadence for catalog aggregation.
const DefaultRefreshInterval = 60 * time.Second

// MethodNotFoundCode is the JSON-RPC error code returned for a tools/call
// whose namespaced name does not resolve to any known backend/tool pair.
const MethodNotFoundCode = -32601

// OnDispatchStart is called, if non-nil, with the backend pool and
// backend-local request id the moment a forwarded request is about to be
// sent — before Dispatch/DispatchResourceRead block waiting for the
// response — so a caller can record the mapping needed to forward a later
// notifications/cancelled to the right backend under the right id.
type OnDispatchStart func(p *pool.Pool, backendID string)

// Dispatch routes a tools/call request: it resolves the namespaced name,
// strips the prefix, and forwards the unprefixed call through pools to
// the target backend's connection pool. Mismatches return an *mcperr.Error
// carrying MethodNotFoundCode rather than a generic protocol error, per
// the spec's requirement that naming mismatches surface as MethodNotFound.
func Dispatch(ctx context.Context, catalog *Catalog, pools map[string]*pool.Pool, exportedName string, args map[string]interface{}, onStart OnDispatchStart) (json.RawMessage, error) {
	entry, ok := catalog.LookupTool(exportedName)
	if !ok {
		return nil, mcperr.New(mcperr.KindProtocol, "router.Dispatch", fmt.Sprintf("unknown tool %q", exportedName)).WithCode(MethodNotFoundCode)
	}

	if entry.Backend == "" && entry.Handler != nil {
		return entry.Handler(ctx, args)
	}

	p, ok := pools[entry.Backend]
	if !ok {
		return nil, mcperr.New(mcperr.KindProtocol, "router.Dispatch", fmt.Sprintf("backend %q is not connected", entry.Backend)).WithCode(MethodNotFoundCode)
	}

	id := p.NextID()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      entry.LocalName,
			"arguments": args,
		},
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindProtocol, "router.Dispatch", err, "encoding tools/call request")
	}

	if onStart != nil {
		onStart(p, id)
	}
	return p.Request(ctx, id, frame)
}

// DispatchResourceRead resolves uri to its catalog entry and either
// invokes its native Handler or forwards a resources/read request to the
// owning backend's pool, mirroring Dispatch's native-vs-backend split.
func DispatchResourceRead(ctx context.Context, catalog *Catalog, pools map[string]*pool.Pool, uri string, onStart OnDispatchStart) (json.RawMessage, error) {
	entry, ok := catalog.LookupResource(uri)
	if !ok {
		return nil, mcperr.New(mcperr.KindProtocol, "router.DispatchResourceRead", fmt.Sprintf("unknown resource %q", uri)).WithCode(MethodNotFoundCode)
	}

	if entry.Backend == "" && entry.Handler != nil {
		return entry.Handler(ctx)
	}

	p, ok := pools[entry.Backend]
	if !ok {
		return nil, mcperr.New(mcperr.KindProtocol, "router.DispatchResourceRead", fmt.Sprintf("backend %q is not connected", entry.Backend)).WithCode(MethodNotFoundCode)
	}

	id := p.NextID()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "resources/read",
		"params":  map[string]interface{}{"uri": entry.URI},
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindProtocol, "router.DispatchResourceRead", err, "encoding resources/read request")
	}

	if onStart != nil {
		onStart(p, id)
	}
	return p.Request(ctx, id, frame)
}

// RefreshLoop periodically calls catalog.Refresh on DefaultRefreshInterval
// (or interval, if nonzero) and additionally on every signal received from
// listChanged, until ctx is canceled. This mirrors the teacher's
// ticker-driven retryFailedRegistrations loop
// (internal/aggregator/manager.go), generalized to also react to
// list_changed notifications rather than only a fixed interval.
func RefreshLoop(ctx context.Context, interval time.Duration, listChanged <-chan struct{}, refresh func(ctx context.Context)) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh(ctx)
		case <-listChanged:
			refresh(ctx)
		}
	}
}
