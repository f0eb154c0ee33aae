package intercept

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mcpmux/proxy/pkg/logging"
)

// MaxCapturedBodyBytes bounds how much of a request/response body is read
// into memory for capture, independent of how much is forwarded.
const MaxCapturedBodyBytes = 1 << 20 // 1 MiB

// redactedSentinel replaces auth-bearing header values before storage or
// logging; the original value always still reaches the upstream.
const redactedSentinel = "[REDACTED]"

// Capture is one intercepted request/response pair handed to the
// attribution pipeline. It is populated regardless of whether attribution
// ultimately succeeds, so fail-open behavior only ever affects forwarding,
// never this struct's construction.
type Capture struct {
	Host          string
	RequestLine   string
	RequestHeader http.Header
	RequestBody   []byte
	ResponseLine  string
	ResponseBody  []byte
	StartedAt     time.Time
	Duration      time.Duration
}

// Sink receives every completed Capture. Implementations must not block
// the proxy's forwarding path; Proxy always forwards traffic regardless of
// what Sink.Handle does or returns.
type Sink interface {
	Handle(ctx context.Context, c Capture)
}

// Proxy is the CONNECT-tunnel MITM listener.
type Proxy struct {
	ca          *CA
	allowedHost string
	sink        Sink
}

// NewProxy builds a Proxy that only intercepts CONNECT tunnels to
// allowedHost; any other CONNECT target is tunneled opaquely without
// interception, per the spec's host allow-list requirement.
func NewProxy(ca *CA, allowedHost string, sink Sink) *Proxy {
	return &Proxy{ca: ca, allowedHost: allowedHost, sink: sink}
}

// ServeHTTP handles one CONNECT request. Non-CONNECT methods are rejected;
// this listener exists only to intercept outbound TLS tunnels.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "this listener only accepts CONNECT", http.StatusMethodNotAllowed)
		return
	}

	host := hostOnly(r.Host)
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		logging.Error("intercept", err, "hijacking connection for %s", r.Host)
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		logging.Error("intercept", err, "writing CONNECT response for %s", r.Host)
		return
	}

	if host != p.allowedHost {
		p.tunnelOpaque(clientConn, r.Host)
		return
	}

	p.interceptTLS(r.Context(), clientConn, host)
}

func hostOnly(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

// tunnelOpaque relays bytes between the client and the real upstream
// without ever terminating TLS, used for any CONNECT target outside the
// host allow-list.
func (p *Proxy) tunnelOpaque(clientConn net.Conn, hostport string) {
	upstream, err := net.DialTimeout("tcp", hostport, 10*time.Second)
	if err != nil {
		logging.Warn("intercept", "opaque dial to %s failed: %v", hostport, err)
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, clientConn); done <- struct{}{} }()
	go func() { io.Copy(clientConn, upstream); done <- struct{}{} }()
	<-done
}

// interceptTLS terminates TLS from the client using a freshly minted leaf
// certificate, opens its own TLS session to the real host, and pipes each
// decrypted request/response pair on the connection through the capture
// sink. Only a failure to mint the leaf certificate falls back to
// tunnelOpaque; a failed client handshake or upstream dial closes the
// connection.
func (p *Proxy) interceptTLS(ctx context.Context, clientConn net.Conn, host string) {
	leaf, err := p.ca.LeafFor(host)
	if err != nil {
		logging.Warn("intercept", "leaf certificate generation failed for %s, falling back to opaque tunnel: %v", host, err)
		p.tunnelOpaque(clientConn, net.JoinHostPort(host, "443"))
		return
	}

	tlsConfig := &tls.Config{
		GetCertificate: func(info *tls.ClientHelloInfo) (*tls.Certificate, error) {
			if info.ServerName != host {
				return nil, fmt.Errorf("SNI %q does not match CONNECT host %q", info.ServerName, host)
			}
			return leaf, nil
		},
	}
	tlsClientConn := tls.Server(clientConn, tlsConfig)
	if err := tlsClientConn.Handshake(); err != nil {
		logging.Warn("intercept", "client TLS handshake failed for %s: %v", host, err)
		return
	}
	defer tlsClientConn.Close()

	upstreamConn, err := tls.Dial("tcp", net.JoinHostPort(host, "443"), &tls.Config{ServerName: host})
	if err != nil {
		logging.Warn("intercept", "upstream TLS dial failed for %s: %v", host, err)
		return
	}
	defer upstreamConn.Close()

	reader := bufio.NewReader(tlsClientConn)
	for {
		start := time.Now()
		req, err := http.ReadRequest(reader)
		if err != nil {
			if err != io.EOF {
				logging.Debug("intercept", "%s: connection closed: %v", host, err)
			}
			return
		}

		capturedHeader := req.Header.Clone()
		redactHeaders(capturedHeader)
		capture := Capture{Host: host, RequestLine: req.Method + " " + req.URL.String(), RequestHeader: capturedHeader, StartedAt: start}
		capture.RequestBody = readBounded(req.Body)
		req.Body.Close()

		if err := req.Write(upstreamConn); err != nil {
			logging.Warn("intercept", "forwarding request to %s failed: %v", host, err)
			return
		}

		upstreamReader := bufio.NewReader(upstreamConn)
		resp, err := http.ReadResponse(upstreamReader, req)
		if err != nil {
			logging.Warn("intercept", "reading upstream response from %s failed: %v", host, err)
			return
		}
		capture.ResponseLine = resp.Status
		capture.ResponseBody = readBounded(resp.Body)
		resp.Body.Close()
		capture.Duration = time.Since(start)

		if err := resp.Write(tlsClientConn); err != nil {
			logging.Warn("intercept", "relaying response to client for %s failed: %v", host, err)
			return
		}

		if p.sink != nil {
			// Fail-open: Handle runs synchronously here but must itself
			// never block significantly or panic; Sink implementations
			// are responsible for queuing slow work asynchronously.
			safeHandle(ctx, p.sink, capture)
		}
	}
}

func safeHandle(ctx context.Context, sink Sink, c Capture) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("intercept", "capture sink panicked, forwarding unaffected: %v", r)
		}
	}()
	sink.Handle(ctx, c)
}

func readBounded(r io.Reader) []byte {
	limited := io.LimitReader(r, MaxCapturedBodyBytes)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil
	}
	return data
}

// redactHeaders replaces auth-bearing header values in place for storage
// or logging purposes. This is only ever called on the copy captured for
// the sink; the original request object forwarded upstream is untouched.
var sensitiveHeaders = []string{"Authorization", "X-Api-Key"}

func redactHeaders(h http.Header) {
	for _, name := range sensitiveHeaders {
		if h.Get(name) != "" {
			h.Set(name, redactedSentinel)
		}
	}
}

// RedactedHeaderString renders headers as a single log-safe line with any
// sensitive values already replaced by redactedSentinel.
func RedactedHeaderString(h http.Header) string {
	clone := h.Clone()
	redactHeaders(clone)
	var b strings.Builder
	for k, vals := range clone {
		for _, v := range vals {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	return b.String()
}
