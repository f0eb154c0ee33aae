package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDriver_RecvReadsServerSentEventFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		flusher, _ := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/initialized\"}\n\n")
		if flusher != nil {
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	driver, err := Dial(ctx, Config{Kind: KindSSE, URL: srv.URL})
	require.NoError(t, err)
	defer driver.Close()

	frame, err := driver.Recv(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(frame), "notifications/initialized")
}

func TestHTTPDriver_SendPostsFrameAndSurfacesSynchronousJSONResponse(t *testing.T) {
	streamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			<-r.Context().Done()
		case http.MethodPost:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
		}
	}))
	defer streamSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	driver, err := Dial(ctx, Config{Kind: KindHTTP, URL: streamSrv.URL})
	require.NoError(t, err)
	defer driver.Close()

	require.NoError(t, driver.Send(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)))

	frame, err := driver.Recv(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"result"`)
}

func TestHTTPDriver_DialFailsOnNonStreamEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), Config{Kind: KindSSE, URL: srv.URL})
	assert.Error(t, err)
}

func TestDial_RejectsMissingURLForHTTPKinds(t *testing.T) {
	_, err := Dial(context.Background(), Config{Kind: KindHTTP})
	assert.Error(t, err)
}
