package frontend

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/proxy/pkg/mcpwire"
	"github.com/mcpmux/proxy/pkg/mcpwire/adapter"
	"github.com/mcpmux/proxy/pkg/pool"
	"github.com/mcpmux/proxy/pkg/router"
)

func contextBackground() context.Context { return context.Background() }

// fakeBackendDriver is a minimal transport.Driver recording every frame
// sent to it, used to observe that a cancellation reaches the backend.
type fakeBackendDriver struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeBackendDriver) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeBackendDriver) Recv(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeBackendDriver) Close() error { return nil }

func TestHandleFrame_NotificationsCancelledForwardsToOwningBackend(t *testing.T) {
	s := NewServer(router.NewCatalog("mcp", nil, nil), adapter.NewRegistry())

	driver := &fakeBackendDriver{}
	p := pool.New("backend-x", driver)
	defer p.Close()

	s.trackInFlight("5")(p, "42")

	req := []byte(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":5}}`)
	resp, err := s.HandleFrame(contextBackground(), req)
	require.NoError(t, err)
	assert.Nil(t, resp)

	require.Eventually(t, func() bool {
		driver.mu.Lock()
		defer driver.mu.Unlock()
		return len(driver.sent) == 1
	}, time.Second, 10*time.Millisecond)

	driver.mu.Lock()
	defer driver.mu.Unlock()
	var cancelFrame struct {
		Method string `json:"method"`
		Params struct {
			RequestID string `json:"requestId"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(driver.sent[0], &cancelFrame))
	assert.Equal(t, "notifications/cancelled", cancelFrame.Method)
	assert.Equal(t, "42", cancelFrame.Params.RequestID)

	s.inFlightMu.Lock()
	_, stillTracked := s.inFlight["5"]
	s.inFlightMu.Unlock()
	assert.False(t, stillTracked)
}

func TestHandleFrame_UnknownNotificationReturnsNoResponse(t *testing.T) {
	s := NewServer(router.NewCatalog("mcp", nil, nil), adapter.NewRegistry())

	req := []byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`)
	resp, err := s.HandleFrame(contextBackground(), req)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestHandleInitialize_NegotiatesRequestedKnownVersion(t *testing.T) {
	s := NewServer(router.NewCatalog("mcp", nil, nil), adapter.NewRegistry())

	req := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)
	resp, err := s.HandleFrame(contextBackground(), req)
	require.NoError(t, err)

	var decoded struct {
		Result struct {
			ProtocolVersion string `json:"protocolVersion"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resp, &decoded))
	assert.Equal(t, "2024-11-05", decoded.Result.ProtocolVersion)
}

func TestHandleInitialize_DefaultsToHighestOnUnknownVersion(t *testing.T) {
	s := NewServer(router.NewCatalog("mcp", nil, nil), adapter.NewRegistry())

	req := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"bogus"}}`)
	resp, err := s.HandleFrame(contextBackground(), req)
	require.NoError(t, err)

	var decoded struct {
		Result struct {
			ProtocolVersion string `json:"protocolVersion"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resp, &decoded))
	assert.Equal(t, string(mcpwire.V3), decoded.Result.ProtocolVersion)
}

func TestHandleFrame_ResourcesReadRoutesToNativeHandler(t *testing.T) {
	catalog := router.NewCatalog("mcp", nil, func() []router.ResourceEntry {
		return []router.ResourceEntry{
			{
				URI:  "quality://cache-statistics",
				Name: "Cache statistics",
				Handler: func(ctx context.Context) (json.RawMessage, error) {
					return json.RawMessage(`{"hits":0}`), nil
				},
			},
		}
	})
	catalog.Refresh(contextBackground(), nil, nil)
	s := NewServer(catalog, adapter.NewRegistry())

	req := []byte(`{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"quality://cache-statistics"}}`)
	resp, err := s.HandleFrame(contextBackground(), req)
	require.NoError(t, err)

	var decoded struct {
		Result struct {
			Hits int `json:"hits"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resp, &decoded))
	assert.Equal(t, 0, decoded.Result.Hits)
}

func TestHandleFrame_ResourcesReadUnknownURIReturnsError(t *testing.T) {
	s := NewServer(router.NewCatalog("mcp", nil, nil), adapter.NewRegistry())

	req := []byte(`{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"quality://does-not-exist"}}`)
	resp, err := s.HandleFrame(contextBackground(), req)
	require.NoError(t, err)

	var decoded struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp, &decoded))
	assert.Equal(t, router_MethodNotFound, decoded.Error.Code)
}

func TestHandleFrame_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	s := NewServer(router.NewCatalog("mcp", nil, nil), adapter.NewRegistry())

	req := []byte(`{"jsonrpc":"2.0","id":1,"method":"completion/complete"}`)
	resp, err := s.HandleFrame(contextBackground(), req)
	require.NoError(t, err)

	var decoded struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp, &decoded))
	assert.Equal(t, router_MethodNotFound, decoded.Error.Code)
}
