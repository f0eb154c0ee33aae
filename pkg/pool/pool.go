// Package pool implements the per-backend connection pool: a single
// in-flight transport guarded by a write mutex, with outstanding requests
// correlated to their responses by JSON-RPC id, and helpers for fanning a
// request out across every backend in parallel.
package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcpmux/proxy/pkg/logging"
	"github.com/mcpmux/proxy/pkg/mcperr"
	"github.com/mcpmux/proxy/pkg/transport"
)

// Pool serializes writes to one backend's transport and correlates
// responses back to their callers by request id, so many goroutines can
// call Request concurrently against one underlying Driver.
type Pool struct {
	name   string
	driver transport.Driver

	writeMu sync.Mutex // orders writes so two concurrent Requests never interleave frames

	waitersMu sync.Mutex
	waiters   map[string]chan json.RawMessage

	nextID int64
	idMu   sync.Mutex

	readLoopOnce sync.Once
	readErrCh    chan error
}

// New wraps driver in a Pool that correlates requests to responses by id.
// It starts a background read loop that dispatches every incoming frame
// to the waiter matching its id, or drops it if no waiter is registered:
// a response with an unknown id is logged at debug level, while a frame
// with no id (e.g. a server-initiated notification) is dropped silently.
func New(name string, driver transport.Driver) *Pool {
	p := &Pool{
		name:      name,
		driver:    driver,
		waiters:   make(map[string]chan json.RawMessage),
		readErrCh: make(chan error, 1),
	}
	p.readLoopOnce.Do(func() { go p.readLoop() })
	return p
}

func (p *Pool) readLoop() {
	ctx := context.Background()
	for {
		frame, err := p.driver.Recv(ctx)
		if err != nil {
			p.failAllWaiters(err)
			select {
			case p.readErrCh <- err:
			default:
			}
			return
		}

		msg, err := parseID(frame)
		if err != nil {
			logging.Warn("pool", "%s: dropping unparseable frame: %v", p.name, err)
			continue
		}
		if msg.id == "" {
			// Notification or server-initiated request with no waiter;
			// higher layers (router) subscribe separately for these.
			continue
		}

		p.waitersMu.Lock()
		ch, ok := p.waiters[msg.id]
		if ok {
			delete(p.waiters, msg.id)
		}
		p.waitersMu.Unlock()

		if !ok {
			logging.Debug("pool", "%s: no waiter for response id %s", p.name, msg.id)
			continue
		}
		ch <- frame
	}
}

func (p *Pool) failAllWaiters(err error) {
	p.waitersMu.Lock()
	defer p.waitersMu.Unlock()
	for id, ch := range p.waiters {
		close(ch)
		delete(p.waiters, id)
	}
	_ = err
}

type frameID struct{ id string }

func parseID(frame []byte) (frameID, error) {
	var decoded struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		return frameID{}, err
	}
	if len(decoded.ID) == 0 {
		return frameID{}, nil
	}
	// Waiters are keyed by the bare id text, so a string id "1" and a
	// numeric id 1 both match the waiter registered under "1".
	var s string
	if err := json.Unmarshal(decoded.ID, &s); err == nil {
		return frameID{id: s}, nil
	}
	return frameID{id: string(decoded.ID)}, nil
}

// Request sends frame (which must be a complete JSON-RPC request object
// including "id") and blocks until the correlated response arrives or ctx
// is canceled. The caller owns frame's id value; Request registers a
// waiter for it before writing, so no response can race ahead of
// registration.
func (p *Pool) Request(ctx context.Context, id string, frame []byte) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)

	p.waitersMu.Lock()
	p.waiters[id] = ch
	p.waitersMu.Unlock()

	cleanup := func() {
		p.waitersMu.Lock()
		delete(p.waiters, id)
		p.waitersMu.Unlock()
	}

	p.writeMu.Lock()
	err := p.driver.Send(ctx, frame)
	p.writeMu.Unlock()
	if err != nil {
		cleanup()
		return nil, mcperr.Wrap(mcperr.KindPool, "pool.Request", err, fmt.Sprintf("sending to %s", p.name))
	}

	select {
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, mcperr.New(mcperr.KindPool, "pool.Request", fmt.Sprintf("%s: connection closed awaiting response", p.name))
		}
		return resp, nil
	}
}

// NextID generates a monotonically increasing request id scoped to this
// pool as a decimal string. Callers marshal it into a request's "id" field
// as a JSON string; the read loop matches a response carrying that id as
// either a string or a number.
func (p *Pool) NextID() string {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	p.nextID++
	return fmt.Sprintf("%d", p.nextID)
}

// Send writes a fire-and-forget frame (a notification) without waiting
// for any response.
func (p *Pool) Send(ctx context.Context, frame []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.driver.Send(ctx, frame)
}

// Cancel forwards a notifications/cancelled for id to the backend and
// discards the local waiter for id, so a response that later arrives for a
// canceled request finds no waiter and is dropped by the read loop instead
// of being delivered to a caller who has already moved on.
func (p *Pool) Cancel(ctx context.Context, id string) error {
	p.waitersMu.Lock()
	if ch, ok := p.waiters[id]; ok {
		close(ch)
		delete(p.waiters, id)
	}
	p.waitersMu.Unlock()

	frame, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notifications/cancelled",
		"params":  map[string]interface{}{"requestId": id},
	})
	if err != nil {
		return mcperr.Wrap(mcperr.KindPool, "pool.Cancel", err, fmt.Sprintf("encoding cancellation for %s", p.name))
	}
	return p.Send(ctx, frame)
}

// Close releases the underlying transport and fails any outstanding
// waiters.
func (p *Pool) Close() error {
	err := p.driver.Close()
	p.failAllWaiters(fmt.Errorf("pool closed"))
	return err
}
