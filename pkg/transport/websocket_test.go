package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketDriver_SendAndRecvRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, append([]byte("echo:"), frame...)))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	driver, err := Dial(ctx, Config{Kind: KindWebSocket, URL: wsURL})
	require.NoError(t, err)
	defer driver.Close()

	require.NoError(t, driver.Send(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))

	frame, err := driver.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, `echo:{"jsonrpc":"2.0","id":1,"method":"ping"}`, string(frame))
}

func TestDial_RejectsMissingURLForWebSocket(t *testing.T) {
	_, err := Dial(context.Background(), Config{Kind: KindWebSocket})
	assert.Error(t, err)
}

func TestDial_RejectsUnsupportedKind(t *testing.T) {
	_, err := Dial(context.Background(), Config{Kind: "bogus"})
	assert.Error(t, err)
}
