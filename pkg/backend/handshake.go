package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcpmux/proxy/pkg/mcpwire"
	"github.com/mcpmux/proxy/pkg/transport"
)

// clientInfo mirrors the teacher's hardcoded clientInfo block
// (internal/mcpserver/client_stdio.go), renamed for this proxy. The
// protocol revision is not carried here but in handshake's
// "protocolVersion" parameter; the backend may reply with an older
// revision, which becomes its negotiated Version.
var clientInfo = struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}{Name: "mcpmux-proxy", Version: "1.0.0"}

// handshake sends the initialize request over driver and returns the
// protocol version the backend actually negotiated. preferred, when
// non-empty, is offered as the proxy's requested version (used when a
// BackendConfig pins a specific revision); otherwise the newest known
// revision is requested.
func handshake(ctx context.Context, driver transport.Driver, preferred mcpwire.ProtocolVersion) (mcpwire.ProtocolVersion, error) {
	requested := preferred
	if requested == "" {
		requested = mcpwire.V3
	}

	params := map[string]interface{}{
		"protocolVersion": string(requested),
		"capabilities":    map[string]interface{}{},
		"clientInfo":      clientInfo,
	}
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  params,
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("backend: encoding initialize request: %w", err)
	}
	if err := driver.Send(ctx, frame); err != nil {
		return "", fmt.Errorf("backend: sending initialize request: %w", err)
	}

	respFrame, err := driver.Recv(ctx)
	if err != nil {
		return "", fmt.Errorf("backend: awaiting initialize response: %w", err)
	}

	msg, err := mcpwire.ParseMessage(respFrame)
	if err != nil {
		return "", fmt.Errorf("backend: parsing initialize response: %w", err)
	}

	if errField, hasErr := msg.Field("error"); hasErr {
		return "", fmt.Errorf("backend: initialize rejected: %s", string(errField))
	}

	result, ok := msg.Field("result")
	if !ok {
		return "", fmt.Errorf("backend: initialize response missing result")
	}
	var decoded struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return "", fmt.Errorf("backend: decoding initialize result: %w", err)
	}

	negotiated := mcpwire.ProtocolVersion(decoded.ProtocolVersion)
	if !negotiated.Known() {
		return "", fmt.Errorf("backend: unrecognized protocol version %q", decoded.ProtocolVersion)
	}

	notify := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	}
	notifyFrame, err := json.Marshal(notify)
	if err != nil {
		return "", fmt.Errorf("backend: encoding initialized notification: %w", err)
	}
	if err := driver.Send(ctx, notifyFrame); err != nil {
		return "", fmt.Errorf("backend: sending initialized notification: %w", err)
	}

	return negotiated, nil
}
