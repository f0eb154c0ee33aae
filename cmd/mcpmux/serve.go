package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpmux/proxy/internal/config"
	"github.com/mcpmux/proxy/pkg/backend"
	"github.com/mcpmux/proxy/pkg/feedback"
	"github.com/mcpmux/proxy/pkg/frontend"
	"github.com/mcpmux/proxy/pkg/intercept"
	"github.com/mcpmux/proxy/pkg/logging"
	"github.com/mcpmux/proxy/pkg/mcperr"
	"github.com/mcpmux/proxy/pkg/mcpwire/adapter"
	"github.com/mcpmux/proxy/pkg/pool"
	"github.com/mcpmux/proxy/pkg/provenance"
	"github.com/mcpmux/proxy/pkg/router"
	mgmtserver "github.com/mcpmux/proxy/pkg/server"
)

// retentionSweepInterval is how often the provenance store checks for
// captured requests older than the configured retention window.
const retentionSweepInterval = time.Hour

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "mcpmux.yaml", "path to the configuration document")
	return cmd
}

// proxyState owns every live backend and the connection pool built from
// its driver once it reaches Ready, guarded by one mutex — generalized
// from the teacher's ServerRegistry (internal/aggregator/registry.go)
// holding one map of ServerInfo per backend.
type proxyState struct {
	mu       sync.RWMutex
	backends map[string]*backend.Backend
	pools    map[string]*pool.Pool
}

func newProxyState() *proxyState {
	return &proxyState{backends: make(map[string]*backend.Backend), pools: make(map[string]*pool.Pool)}
}

func (s *proxyState) snapshot() (map[string]*backend.Backend, map[string]*pool.Pool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	backends := make(map[string]*backend.Backend, len(s.backends))
	for k, v := range s.backends {
		backends[k] = v
	}
	pools := make(map[string]*pool.Pool, len(s.pools))
	for k, v := range s.pools {
		pools[k] = v
	}
	return backends, pools
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.InitForCLI(logLevelFromString(cfg.LogLevel), os.Stderr)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := provenance.Open(cfg.Provenance.DatabasePath, provenance.HotTierConfig{
		MaxEntries:   cfg.Provenance.HotMaxEntries,
		MaxCostBytes: cfg.Provenance.HotMaxCostBytes,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	engine := feedback.NewEngine(store)

	state := newProxyState()
	for _, bc := range cfg.Backends {
		bcfg, err := bc.ToBackendConfig()
		if err != nil {
			return err
		}
		b := backend.New(bcfg)
		state.mu.Lock()
		state.backends[bc.Name] = b
		state.mu.Unlock()
		b.Start(ctx)
		go watchBackendReady(ctx, b, state)
	}

	catalog := router.NewCatalog(cfg.NamespacePrefix, router.NativeTools(store, engine), router.NativeResources(store))
	adapters := adapter.NewRegistry()
	front := frontend.NewServer(catalog, adapters)

	listChanged := make(chan struct{})
	go router.RefreshLoop(ctx, router.DefaultRefreshInterval, listChanged, func(refreshCtx context.Context) {
		backends, pools := state.snapshot()
		catalog.Refresh(refreshCtx, pools, queryBackendCapabilities)
		front.SetBackends(backends, pools)
		front.PublishListChanged(refreshCtx)
	})

	go provenance.RunRetentionLoop(ctx, store, cfg.Provenance.RetentionWindow, retentionSweepInterval)

	var wg sync.WaitGroup

	if cfg.Frontend.Mode == "http" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv := &http.Server{Addr: cfg.Frontend.ListenAddr, Handler: front.NewHTTPHandler()}
			go func() { <-ctx.Done(); srv.Close() }()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("serve", err, "front-end HTTP listener failed")
			}
		}()
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := front.RunStdio(ctx, os.Stdin, os.Stdout); err != nil {
				logging.Error("serve", err, "stdio front-end loop failed")
			}
		}()
	}

	mgmt := mgmtserver.New(store, engine)
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv := &http.Server{Addr: cfg.Management.ListenAddr, Handler: mgmt.Handler()}
		go func() { <-ctx.Done(); srv.Close() }()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("serve", err, "management HTTP listener failed")
		}
	}()

	if cfg.Intercept.Enabled {
		ca, err := intercept.NewCA(cfg.Intercept.CAOrg, 10*365*24*time.Hour)
		if err != nil {
			return mcperr.Wrap(mcperr.KindCapture, "serve.runServe", err, "generating intercept CA")
		}
		sink := newCaptureSink(store)
		proxy := intercept.NewProxy(ca, cfg.Intercept.AllowedHost, sink)
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv := &http.Server{Addr: cfg.Intercept.ListenAddr, Handler: proxy}
			go func() { <-ctx.Done(); srv.Close() }()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("serve", err, "intercept listener failed")
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

// watchBackendReady builds a connection pool from b's driver the moment it
// reaches Ready, and tears it down on any subsequent non-Ready state — the
// same "react to state transitions rather than poll" shape as the
// teacher's event-driven registry updates.
func watchBackendReady(ctx context.Context, b *backend.Backend, state *proxyState) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-b.Updates():
			if !ok {
				return
			}
			if change.To == backend.StateReady {
				p := pool.New(change.Name, b.Driver())
				state.mu.Lock()
				state.pools[change.Name] = p
				state.mu.Unlock()
			} else {
				state.mu.Lock()
				if p, ok := state.pools[change.Name]; ok {
					p.Close()
					delete(state.pools, change.Name)
				}
				state.mu.Unlock()
			}
		}
	}
}

func queryBackendCapabilities(ctx context.Context, p *pool.Pool) (router.BackendCapabilities, error) {
	tools, err := listFrom(ctx, p, "tools/list", "tools")
	if err != nil {
		return router.BackendCapabilities{}, err
	}
	resources, err := listFrom(ctx, p, "resources/list", "resources")
	if err != nil {
		return router.BackendCapabilities{}, err
	}

	caps := router.BackendCapabilities{}
	for _, t := range tools {
		caps.Tools = append(caps.Tools, router.ToolEntry{
			LocalName:    stringOrEmpty(t["name"]),
			Description:  stringOrEmpty(t["description"]),
			Title:        stringOrEmpty(t["title"]),
			InputSchema:  mapOrNil(t["inputSchema"]),
			OutputSchema: mapOrNil(t["outputSchema"]),
		})
	}
	for _, r := range resources {
		uri, _ := r["uri"].(string)
		name, _ := r["name"].(string)
		caps.Resources = append(caps.Resources, router.ResourceEntry{URI: uri, Name: name, Title: stringOrEmpty(r["title"])})
	}
	return caps, nil
}

func mapOrNil(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func listFrom(ctx context.Context, p *pool.Pool, method, key string) ([]map[string]interface{}, error) {
	id := p.NextID()
	frame, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": id, "method": method})
	if err != nil {
		return nil, err
	}
	raw, err := p.Request(ctx, id, frame)
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	var items []map[string]interface{}
	if raw, ok := decoded.Result[key]; ok {
		_ = json.Unmarshal(raw, &items)
	}
	return items, nil
}

func stringOrEmpty(v interface{}) string {
	s, _ := v.(string)
	return s
}

func logLevelFromString(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
