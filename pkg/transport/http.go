package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/mcpmux/proxy/pkg/logging"
)

// httpDriver speaks MCP's streamable-http framing: JSON-RPC requests are
// POSTed one at a time and SSE-style "data: " lines carry server-to-client
// frames (notifications, responses, and server-initiated requests) on a
// persistent GET stream. This generalizes the teacher's separate SSE and
// streamable-http clients into one driver, since both ultimately produce
// the same thing at the framing layer: a request sink plus an event
// source.
type httpDriver struct {
	kind    Kind
	url     string
	headers map[string]string
	client  *http.Client

	mu       sync.Mutex
	eventsCh chan []byte
	errCh    chan error
	cancel   context.CancelFunc
}

func newHTTPDriver(ctx context.Context, kind Kind, url string, headers map[string]string) (Driver, error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	d := &httpDriver{
		kind:     kind,
		url:      url,
		headers:  headers,
		client:   &http.Client{},
		eventsCh: make(chan []byte, 64),
		errCh:    make(chan error, 1),
		cancel:   cancel,
	}

	if err := d.startEventStream(streamCtx); err != nil {
		cancel()
		return nil, err
	}
	return d, nil
}

func (d *httpDriver) startEventStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return fmt.Errorf("transport: building %s stream request: %w", d.kind, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: opening %s stream: %w", d.kind, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return fmt.Errorf("transport: %s stream authentication required for %s", d.kind, d.url)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("transport: %s stream returned status %d", d.kind, resp.StatusCode)
	}

	go d.readEvents(resp.Body)
	return nil
}

func (d *httpDriver) readEvents(body io.ReadCloser) {
	defer body.Close()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var dataLines []string
	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payload := []byte(strings.Join(dataLines, "\n"))
		dataLines = dataLines[:0]
		select {
		case d.eventsCh <- payload:
		default:
			logging.Warn("transport.http", "event channel full, dropping frame")
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:, id:, retry: and comment lines carry no JSON-RPC payload.
		}
	}
	flush()

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case d.errCh <- err:
	default:
	}
}

func (d *httpDriver) Send(ctx context.Context, frame []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("transport: building %s request: %w", d.kind, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s post: %w", d.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: %s post returned status %d", d.kind, resp.StatusCode)
	}

	// A synchronous streamable-http response may arrive directly in the
	// POST body instead of on the event stream; surface it the same way.
	if resp.ContentLength != 0 && strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(resp.Body)
		if err == nil && len(body) > 0 {
			select {
			case d.eventsCh <- body:
			default:
				logging.Warn("transport.http", "event channel full, dropping synchronous response")
			}
		}
	}
	return nil
}

func (d *httpDriver) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame := <-d.eventsCh:
		return frame, nil
	case err := <-d.errCh:
		return nil, err
	}
}

func (d *httpDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancel()
	return nil
}
