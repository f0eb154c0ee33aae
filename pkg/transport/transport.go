// Package transport implements the raw framing drivers backends and the
// front-end message server speak over: stdio, HTTP+SSE, and WebSocket. A
// Driver deals only in whole JSON-RPC frames — it never interprets MCP
// method names — so the protocol adapter and connection pool layers above
// it can translate and correlate frames without caring which transport
// carried them.
package transport

import (
	"context"
	"fmt"
)

// Kind identifies which wire transport a backend or front-end listener uses.
type Kind string

const (
	KindStdio     Kind = "stdio"
	KindSSE       Kind = "sse"
	KindHTTP      Kind = "streamable-http"
	KindWebSocket Kind = "websocket"
)

// Driver moves whole JSON-RPC frames across one underlying connection. A
// single Driver instance is not safe for concurrent Send calls from
// multiple goroutines — that serialization is the connection pool's job
// (§ pool write-mutex ordering) — but Send and Recv may run concurrently
// with each other.
type Driver interface {
	// Send writes one complete JSON-RPC frame.
	Send(ctx context.Context, frame []byte) error
	// Recv blocks until the next complete JSON-RPC frame arrives, or
	// returns an error (including context cancellation or EOF).
	Recv(ctx context.Context) ([]byte, error)
	// Close releases the underlying connection (subprocess, socket).
	Close() error
}

// Config describes how to dial or spawn a Driver for one backend.
type Config struct {
	Kind Kind

	// Stdio fields.
	Command string
	Args    []string
	Env     map[string]string

	// SSE / streamable-http / websocket fields.
	URL     string
	Headers map[string]string
}

// Dial constructs and connects the Driver matching cfg.Kind.
func Dial(ctx context.Context, cfg Config) (Driver, error) {
	switch cfg.Kind {
	case KindStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("transport: command is required for stdio")
		}
		return newStdioDriver(ctx, cfg.Command, cfg.Args, cfg.Env)
	case KindSSE, KindHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("transport: url is required for %s", cfg.Kind)
		}
		return newHTTPDriver(ctx, cfg.Kind, cfg.URL, cfg.Headers)
	case KindWebSocket:
		if cfg.URL == "" {
			return nil, fmt.Errorf("transport: url is required for websocket")
		}
		return newWebSocketDriver(ctx, cfg.URL, cfg.Headers)
	default:
		return nil, fmt.Errorf("transport: unsupported kind %q", cfg.Kind)
	}
}
