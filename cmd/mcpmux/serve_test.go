package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/proxy/pkg/logging"
	"github.com/mcpmux/proxy/pkg/pool"
)

func TestLogLevelFromString_MapsKnownNamesAndDefaultsToInfo(t *testing.T) {
	assert.Equal(t, logging.LevelDebug, logLevelFromString("debug"))
	assert.Equal(t, logging.LevelWarn, logLevelFromString("warn"))
	assert.Equal(t, logging.LevelError, logLevelFromString("error"))
	assert.Equal(t, logging.LevelInfo, logLevelFromString("info"))
	assert.Equal(t, logging.LevelInfo, logLevelFromString(""))
	assert.Equal(t, logging.LevelInfo, logLevelFromString("bogus"))
}

func TestStringOrEmpty_ExtractsStringsAndIgnoresOtherTypes(t *testing.T) {
	assert.Equal(t, "hello", stringOrEmpty("hello"))
	assert.Equal(t, "", stringOrEmpty(42))
	assert.Equal(t, "", stringOrEmpty(nil))
}

// scriptedDriver is a fake transport.Driver that replies to every Send with
// the canned frame in responses for the request's method, echoing the
// request's id — enough to drive
// pool.Pool's request/response correlation without a real subprocess or
// socket.
type scriptedDriver struct {
	mu        sync.Mutex
	responses map[string][]byte // method name -> raw response frame
	recvCh    chan []byte
	closed    chan struct{}
}

func newScriptedDriver(responses map[string][]byte) *scriptedDriver {
	return &scriptedDriver{responses: responses, recvCh: make(chan []byte, 8), closed: make(chan struct{})}
}

func (d *scriptedDriver) Send(ctx context.Context, frame []byte) error {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(frame, &req); err != nil {
		return err
	}
	resp, ok := d.responses[req.Method]
	if !ok {
		return nil
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(resp, &decoded); err != nil {
		return err
	}
	decoded["id"] = req.ID
	out, err := json.Marshal(decoded)
	if err != nil {
		return err
	}
	d.recvCh <- out
	return nil
}

func (d *scriptedDriver) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-d.recvCh:
		return frame, nil
	case <-d.closed:
		return nil, assertClosedErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *scriptedDriver) Close() error {
	close(d.closed)
	return nil
}

var assertClosedErr = errClosed{}

type errClosed struct{}

func (errClosed) Error() string { return "scriptedDriver closed" }

func TestQueryBackendCapabilities_MergesToolsAndResourcesFromBothListCalls(t *testing.T) {
	driver := newScriptedDriver(map[string][]byte{
		"tools/list":     []byte(`{"result":{"tools":[{"name":"echo","description":"echoes input"}]}}`),
		"resources/list": []byte(`{"result":{"resources":[{"uri":"file:///a","name":"A"}]}}`),
	})
	p := pool.New("backend-a", driver)
	defer p.Close()

	caps, err := queryBackendCapabilities(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, caps.Tools, 1)
	assert.Equal(t, "echo", caps.Tools[0].LocalName)
	assert.Equal(t, "echoes input", caps.Tools[0].Description)

	require.Len(t, caps.Resources, 1)
	assert.Equal(t, "file:///a", caps.Resources[0].URI)
	assert.Equal(t, "A", caps.Resources[0].Name)
}

func TestListFrom_ReturnsEmptyWhenKeyAbsentFromResult(t *testing.T) {
	driver := newScriptedDriver(map[string][]byte{
		"tools/list": []byte(`{"result":{}}`),
	})
	p := pool.New("backend-b", driver)
	defer p.Close()

	items, err := listFrom(context.Background(), p, "tools/list", "tools")
	require.NoError(t, err)
	assert.Empty(t, items)
}
