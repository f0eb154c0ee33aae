// Package frontend implements the C6 front-end message server: the
// client-facing side of the proxy, in either stdio or HTTP+SSE mode,
// handling capability negotiation, translating client-revision messages
// into each target backend's negotiated revision, and routing namespaced
// tool calls through the C5 router.
package frontend

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/mcpmux/proxy/pkg/backend"
	"github.com/mcpmux/proxy/pkg/logging"
	"github.com/mcpmux/proxy/pkg/mcperr"
	"github.com/mcpmux/proxy/pkg/mcpwire"
	"github.com/mcpmux/proxy/pkg/mcpwire/adapter"
	"github.com/mcpmux/proxy/pkg/pool"
	"github.com/mcpmux/proxy/pkg/router"
)

// inFlightCall records which backend pool and backend-local request id a
// client-visible request id is currently waiting on, so a later
// notifications/cancelled naming the client id can be forwarded to the
// right backend under the right id.
type inFlightCall struct {
	pool *pool.Pool
	id   string
}

// Server is the front-end message server shared by both the stdio and
// HTTP transports: it owns the catalog, the adapter registry, and the
// set of live backend pools, and exposes one method, HandleFrame, that
// both transports call per inbound message.
type Server struct {
	catalog  *router.Catalog
	adapters *adapter.Registry

	mu       sync.RWMutex
	backends map[string]*backend.Backend
	pools    map[string]*pool.Pool

	clientVersion mcpwire.ProtocolVersion
	notifications *notificationBus

	inFlightMu sync.Mutex
	inFlight   map[string]inFlightCall
}

// NewServer builds a Server negotiating clientVersion with every
// connecting client (the highest revision the proxy supports, unless the
// client's initialize request names an older known one).
func NewServer(catalog *router.Catalog, adapters *adapter.Registry) *Server {
	return &Server{
		catalog:       catalog,
		adapters:      adapters,
		backends:      make(map[string]*backend.Backend),
		pools:         make(map[string]*pool.Pool),
		clientVersion: mcpwire.V3,
		inFlight:      make(map[string]inFlightCall),
	}
}

// trackInFlight registers clientID as waiting on the given backend pool and
// backend-local request id, returning a func that clears the registration
// once the call completes (by success, failure, or cancellation).
func (s *Server) trackInFlight(clientID string) router.OnDispatchStart {
	return func(p *pool.Pool, backendID string) {
		s.inFlightMu.Lock()
		s.inFlight[clientID] = inFlightCall{pool: p, id: backendID}
		s.inFlightMu.Unlock()
	}
}

func (s *Server) clearInFlight(clientID string) {
	s.inFlightMu.Lock()
	delete(s.inFlight, clientID)
	s.inFlightMu.Unlock()
}

// SetBackends replaces the live backend/pool set the server routes
// against. serve calls it on every catalog refresh with the current
// backends and their pools.
func (s *Server) SetBackends(backends map[string]*backend.Backend, pools map[string]*pool.Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backends = backends
	s.pools = pools
}

func (s *Server) snapshotPools() (map[string]*pool.Pool, map[string]*backend.Backend) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pools := make(map[string]*pool.Pool, len(s.pools))
	for k, v := range s.pools {
		pools[k] = v
	}
	backends := make(map[string]*backend.Backend, len(s.backends))
	for k, v := range s.backends {
		backends[k] = v
	}
	return pools, backends
}

// HandleFrame processes one inbound client frame and returns the response
// frame to write back, or nil for a notification that expects none.
func (s *Server) HandleFrame(ctx context.Context, frame []byte) ([]byte, error) {
	msg, err := mcpwire.ParseMessage(frame)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindProtocol, "frontend.HandleFrame", err, "parsing client frame")
	}

	switch msg.Method() {
	case "initialize":
		return s.handleInitialize(msg)
	case "notifications/initialized":
		return nil, nil
	case "notifications/cancelled":
		return s.handleNotificationsCancelled(ctx, msg)
	case "tools/list":
		return s.handleToolsList(msg)
	case "resources/list":
		return s.handleResourcesList(msg)
	case "resources/read":
		return s.handleResourcesRead(ctx, msg)
	case "prompts/list":
		return s.handlePromptsList(msg)
	case "tools/call":
		return s.handleToolsCall(ctx, msg)
	default:
		if msg.IsNotification() {
			// A server never replies to a notification, known or not.
			return nil, nil
		}
		return s.errorResponse(msg, router_MethodNotFound, "method not supported: "+msg.Method())
	}
}

type cancelledParams struct {
	RequestID json.RawMessage `json:"requestId"`
}

// handleNotificationsCancelled forwards a client-initiated cancellation to
// whichever backend is currently handling the named request id, and drops
// the local in-flight record so a response that arrives afterward finds no
// waiter. Cancellation is best-effort: an unknown or already-finished
// request id is not an error.
func (s *Server) handleNotificationsCancelled(ctx context.Context, msg *mcpwire.Message) ([]byte, error) {
	var params cancelledParams
	if err := msg.Params(&params); err != nil || len(params.RequestID) == 0 {
		return nil, nil
	}

	clientID := string(params.RequestID)
	s.inFlightMu.Lock()
	call, ok := s.inFlight[clientID]
	if ok {
		delete(s.inFlight, clientID)
	}
	s.inFlightMu.Unlock()
	if !ok {
		return nil, nil
	}

	if err := call.pool.Cancel(ctx, call.id); err != nil {
		logging.Warn("frontend", "forwarding cancellation for %s failed: %v", clientID, err)
	}
	return nil, nil
}

const router_MethodNotFound = -32601

func (s *Server) errorResponse(req *mcpwire.Message, code int, message string) ([]byte, error) {
	id, _ := req.ID()
	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(id),
		"error":   map[string]interface{}{"code": code, "message": message},
	}
	return json.Marshal(resp)
}

func (s *Server) result(req *mcpwire.Message, result interface{}) ([]byte, error) {
	id, _ := req.ID()
	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(id),
		"result":  result,
	}
	return json.Marshal(resp)
}

// RunStdio runs the read/dispatch/write loop against the given reader and
// writer, blocking until ctx is canceled or the reader returns EOF, the
// way the teacher's stdio transport pumps newline-delimited JSON-RPC
// frames (internal/mcpserver/client_stdio.go), but in the reverse
// direction (serving a client instead of driving a backend).
func (s *Server) RunStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	writeMu := sync.Mutex{}

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		go func(frame []byte) {
			resp, err := s.HandleFrame(ctx, frame)
			if err != nil {
				logging.Warn("frontend", "handling frame failed: %v", err)
				return
			}
			if resp == nil {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			w.Write(resp)
			w.Write([]byte("\n"))
		}(line)
	}
	return scanner.Err()
}
