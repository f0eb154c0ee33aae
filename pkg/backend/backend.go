// Package backend implements the lifecycle manager for one configured MCP
// backend: spawning/dialing its transport, driving it through the
// handshake, and supervising restarts on failure. This generalizes the
// teacher's ServerInfo connected-flag tracking (internal/aggregator/types.go)
// into the full state machine the proxy's backends require.
package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mcpmux/proxy/pkg/logging"
	"github.com/mcpmux/proxy/pkg/mcperr"
	"github.com/mcpmux/proxy/pkg/mcpwire"
	"github.com/mcpmux/proxy/pkg/transport"
)

// State is one node of the backend lifecycle state machine.
type State string

const (
	StateSpawning     State = "spawning"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateDegraded     State = "degraded"
	StateFailed       State = "failed"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
)

// RestartPolicy controls how a backend is respawned after it exits or its
// health check fails.
type RestartPolicy struct {
	Enabled        bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int // 0 means unlimited
}

// DefaultRestartPolicy mirrors the teacher's 5-second retry-ticker cadence
// (internal/aggregator/manager.go retryFailedRegistrations) as a starting
// backoff, expanded into exponential backoff instead of a fixed ticker
// since individual backends fail independently and at different rates.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Enabled:        true,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     2 * time.Minute,
		MaxRetries:     0,
	}
}

// Config describes one backend to supervise.
type Config struct {
	Name          string
	Transport     transport.Config
	Version       mcpwire.ProtocolVersion // version this backend negotiates, once known
	RestartPolicy RestartPolicy
	InitTimeout   time.Duration
	PoolSize      int
}

// StateChange is published on a Backend's update channel whenever its
// state transitions.
type StateChange struct {
	Name  string
	From  State
	To    State
	Err   error
	StampedAt time.Time
}

// Backend supervises a single backend MCP server across its whole
// lifetime: spawn, handshake, ready operation, and restart on failure.
type Backend struct {
	cfg Config

	mu      sync.RWMutex
	state   State
	driver  transport.Driver
	version mcpwire.ProtocolVersion
	lastErr error

	updates chan StateChange

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Backend in the Stopped state; call Start to begin
// supervision.
func New(cfg Config) *Backend {
	if cfg.InitTimeout == 0 {
		cfg.InitTimeout = 10 * time.Second
	}
	return &Backend{
		cfg:     cfg,
		state:   StateStopped,
		updates: make(chan StateChange, 16),
	}
}

// Name returns the backend's configured name.
func (b *Backend) Name() string { return b.cfg.Name }

// State returns the backend's current lifecycle state.
func (b *Backend) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Version returns the protocol version negotiated with this backend, once
// known (empty before the first successful handshake).
func (b *Backend) Version() mcpwire.ProtocolVersion {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// Driver returns the backend's current transport driver, or nil unless
// the backend is Ready or Degraded.
func (b *Backend) Driver() transport.Driver {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateReady && b.state != StateDegraded {
		return nil
	}
	return b.driver
}

// Updates returns the channel of state transitions for this backend.
func (b *Backend) Updates() <-chan StateChange { return b.updates }

func (b *Backend) setState(to State, err error) {
	b.mu.Lock()
	from := b.state
	b.state = to
	b.lastErr = err
	b.mu.Unlock()

	if from == to {
		return
	}
	logging.Info("backend", "%s: %s -> %s", b.cfg.Name, from, to)
	change := StateChange{Name: b.cfg.Name, From: from, To: to, Err: err, StampedAt: time.Now()}
	select {
	case b.updates <- change:
	default:
		logging.Warn("backend", "%s: update channel full, dropping transition event", b.cfg.Name)
	}
}

// Start begins supervising the backend: spawning its transport, performing
// the MCP handshake, and (if RestartPolicy.Enabled) respawning on failure
// until ctx is canceled or Stop is called.
func (b *Backend) Start(ctx context.Context) {
	superviseCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		b.supervise(superviseCtx)
	}()
}

// Stop tears down the backend's transport and halts supervision.
func (b *Backend) Stop() error {
	b.setState(StateStopping, nil)
	if b.cancel != nil {
		b.cancel()
	}
	if b.done != nil {
		<-b.done
	}

	b.mu.Lock()
	driver := b.driver
	b.driver = nil
	b.mu.Unlock()

	var err error
	if driver != nil {
		err = driver.Close()
	}
	b.setState(StateStopped, nil)
	return err
}

func (b *Backend) supervise(ctx context.Context) {
	attempt := 0
	for {
		err := b.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// connectOnce only returns nil when the driver loop exited
			// because the backend was asked to stop.
			return
		}

		b.setState(StateFailed, err)
		logging.Error("backend", err, "%s: connection attempt failed", b.cfg.Name)

		if !b.cfg.RestartPolicy.Enabled {
			return
		}
		attempt++
		if b.cfg.RestartPolicy.MaxRetries > 0 && attempt > b.cfg.RestartPolicy.MaxRetries {
			logging.Error("backend", err, "%s: exceeded max restart attempts (%d)", b.cfg.Name, b.cfg.RestartPolicy.MaxRetries)
			return
		}

		wait := backoffDuration(b.cfg.RestartPolicy, attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// backoffDuration computes the exponential backoff for the given attempt
// number using cenkalti/backoff/v5's exponential policy, clamped to the
// configured maximum.
func backoffDuration(policy RestartPolicy, attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialBackoff
	eb.MaxInterval = policy.MaxBackoff
	eb.Multiplier = 2.0

	var d time.Duration
	for i := 0; i < attempt; i++ {
		next, err := eb.NextBackOff()
		if err != nil {
			return policy.MaxBackoff
		}
		d = next
	}
	return d
}

// connectOnce dials the transport, performs the handshake, and then blocks
// serving this backend's frames until it disconnects or ctx is canceled. A
// non-nil ctx.Err() on return indicates deliberate shutdown, not failure.
func (b *Backend) connectOnce(ctx context.Context) error {
	b.setState(StateSpawning, nil)

	driver, err := transport.Dial(ctx, b.cfg.Transport)
	if err != nil {
		return mcperr.Wrap(mcperr.KindTransport, "backend.connectOnce", err, fmt.Sprintf("dialing %s", b.cfg.Name))
	}

	b.setState(StateInitializing, nil)
	handshakeCtx, cancel := context.WithTimeout(ctx, b.cfg.InitTimeout)
	version, err := handshake(handshakeCtx, driver, b.cfg.Version)
	cancel()
	if err != nil {
		driver.Close()
		return mcperr.Wrap(mcperr.KindLifecycle, "backend.connectOnce", err, fmt.Sprintf("handshake with %s", b.cfg.Name))
	}

	b.mu.Lock()
	b.driver = driver
	b.version = version
	b.mu.Unlock()
	b.setState(StateReady, nil)

	<-ctx.Done()
	driver.Close()
	return nil
}

// MarkDegraded transitions a Ready backend to Degraded after a health
// check failure that does not warrant a full restart (e.g. a single slow
// response), without tearing down the transport.
func (b *Backend) MarkDegraded(err error) {
	b.mu.RLock()
	cur := b.state
	b.mu.RUnlock()
	if cur == StateReady {
		b.setState(StateDegraded, err)
	}
}

// MarkReady transitions a Degraded backend back to Ready once health
// checks succeed again.
func (b *Backend) MarkReady() {
	b.mu.RLock()
	cur := b.state
	b.mu.RUnlock()
	if cur == StateDegraded {
		b.setState(StateReady, nil)
	}
}
