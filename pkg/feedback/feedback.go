// Package feedback is the C10 feedback engine: a thin, serialized front
// door onto the provenance store's propagation logic. Submissions are
// validated then applied under a single lock, mirroring the teacher's
// "validate then mutate under a manager lock" shape
// (internal/mcpserver/manager.go) rather than relying on SQLite's own
// transaction isolation to order concurrent submissions for the same
// response.
package feedback

import (
	"context"
	"sync"

	"github.com/mcpmux/proxy/pkg/provenance"
)

// Engine serializes feedback submissions against one provenance Store.
type Engine struct {
	mu    sync.Mutex
	store *provenance.Store
}

// NewEngine wraps store with the serialized submission path.
func NewEngine(store *provenance.Store) *Engine {
	return &Engine{store: store}
}

// Submit validates and applies one user's feedback for a response,
// propagating the weighted score update to every context unit in the
// response's lineage. Resubmission by the same (responseID, userID) pair
// replaces the prior contribution rather than adding to it.
func (e *Engine) Submit(ctx context.Context, responseID, userID string, score float64, text string) error {
	if err := provenance.ValidateFeedback(score, text); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.ApplyFeedback(ctx, responseID, userID, score, text)
}
