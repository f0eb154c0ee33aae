package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/mcpmux/proxy/pkg/logging"
)

// notificationBus fans out list_changed and other server-initiated
// notifications to every connected SSE client, generalized from the
// teacher's single core-tool registration path
// (internal/aggregator/server.go createStandardMux) to a richer
// multi-route mux since this proxy's HTTP surface serves more than one
// concern on possibly-separate listeners.
type notificationBus struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func newNotificationBus() *notificationBus {
	return &notificationBus{clients: make(map[chan []byte]struct{})}
}

func (b *notificationBus) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *notificationBus) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

func (b *notificationBus) Publish(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- frame:
		default:
			logging.Warn("frontend", "dropping notification for a slow SSE subscriber")
		}
	}
}

// NewHTTPHandler builds the chi-routed HTTP surface for the front-end
// message server: POST /mcp for request/response JSON-RPC, GET /mcp/sse
// for server-initiated notifications, and GET /health for liveness
// probes, mirroring the teacher's standard mux shape.
func (s *Server) NewHTTPHandler() http.Handler {
	bus := newNotificationBus()
	s.notifications = bus

	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Post("/mcp", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, "reading request body", http.StatusBadRequest)
			return
		}
		resp, err := s.HandleFrame(req.Context(), body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Write(resp)
	})

	r.Get("/mcp/sse", func(w http.ResponseWriter, req *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch := bus.subscribe()
		defer bus.unsubscribe(ch)

		ctx := req.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", frame)
				flusher.Flush()
			}
		}
	})

	return r
}

// PublishListChanged broadcasts a notifications/tools/list_changed frame
// to every connected SSE client. serve calls it after every catalog
// refresh, whether or not the tool set changed.
func (s *Server) PublishListChanged(ctx context.Context) {
	if s.notifications == nil {
		return
	}
	frame, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notifications/tools/list_changed",
	})
	if err != nil {
		return
	}
	s.notifications.Publish(frame)
}
