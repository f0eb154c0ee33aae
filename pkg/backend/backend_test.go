package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDuration_GrowsAndClamps(t *testing.T) {
	policy := RestartPolicy{InitialBackoff: 1 * time.Second, MaxBackoff: 4 * time.Second}

	d1 := backoffDuration(policy, 1)
	d5 := backoffDuration(policy, 5)

	assert.GreaterOrEqual(t, d1, time.Duration(0))
	// d1 jitters within [0.5s, 1.5s]; d5 within [2s, 6s] once clamped to 4s.
	assert.Greater(t, d5, d1)
	assert.LessOrEqual(t, d5, policy.MaxBackoff+policy.MaxBackoff/2) // backoff jitters around MaxInterval
}

func TestBackend_InitialStateIsStopped(t *testing.T) {
	b := New(Config{Name: "test-backend"})
	assert.Equal(t, StateStopped, b.State())
	assert.Equal(t, "test-backend", b.Name())
}

func TestBackend_SetStateEmitsUpdateOnChange(t *testing.T) {
	b := New(Config{Name: "test-backend"})
	b.setState(StateSpawning, nil)

	select {
	case change := <-b.Updates():
		assert.Equal(t, StateStopped, change.From)
		assert.Equal(t, StateSpawning, change.To)
	case <-time.After(time.Second):
		t.Fatal("expected a state-change event")
	}
}

func TestBackend_SetStateNoOpWhenUnchanged(t *testing.T) {
	b := New(Config{Name: "test-backend"})
	b.setState(StateStopped, nil) // already Stopped

	select {
	case change := <-b.Updates():
		t.Fatalf("expected no update event, got %+v", change)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBackend_MarkDegradedAndReady(t *testing.T) {
	b := New(Config{Name: "test-backend"})
	b.state = StateReady

	b.MarkDegraded(assertErr)
	assert.Equal(t, StateDegraded, b.State())

	b.MarkReady()
	assert.Equal(t, StateReady, b.State())
}

var assertErr = assertError{}

type assertError struct{}

func (assertError) Error() string { return "health check failed" }
