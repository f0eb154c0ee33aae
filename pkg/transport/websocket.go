package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// webSocketDriver carries JSON-RPC frames one-per-message over a
// persistent WebSocket connection, grounded in the same
// connect-once/read-write-independently shape as the HTTP driver but
// using gorilla/websocket's framed message API instead of line-delimited
// SSE.
type webSocketDriver struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

var dialer = websocket.Dialer{}

func newWebSocketDriver(ctx context.Context, url string, headers map[string]string) (Driver, error) {
	hdr := http.Header{}
	for k, v := range headers {
		hdr.Set(k, v)
	}

	conn, resp, err := dialer.DialContext(ctx, url, hdr)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("transport: websocket authentication required for %s", url)
		}
		return nil, fmt.Errorf("transport: websocket dial %s: %w", url, err)
	}

	return &webSocketDriver{conn: conn}, nil
}

func (d *webSocketDriver) Send(ctx context.Context, frame []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteMessage(websocket.TextMessage, frame)
}

func (d *webSocketDriver) Recv(ctx context.Context) ([]byte, error) {
	type result struct {
		frame []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		_, frame, err := d.conn.ReadMessage()
		done <- result{frame: frame, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.frame, r.err
	}
}

func (d *webSocketDriver) Close() error {
	return d.conn.Close()
}
