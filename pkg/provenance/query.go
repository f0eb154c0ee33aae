package provenance

import (
	"context"
	"time"

	"github.com/mcpmux/proxy/pkg/mcperr"
)

// ListContextUnitsByScore returns up to limit context units ordered by
// aggregate_score, descending when top=true (top-rated) or ascending
// when top=false (worst-rated, used to surface deprecation candidates).
func (c *ColdStore) ListContextUnitsByScore(ctx context.Context, top bool, limit int) ([]ContextUnit, error) {
	order := "DESC"
	if !top {
		order = "ASC"
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, source_name, content, content_hash, aggregate_score, feedback_count, created_at
		FROM context_units ORDER BY aggregate_score `+order+` LIMIT ?`, limit)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindStorage, "provenance.ListContextUnitsByScore", err, "querying context units")
	}
	defer rows.Close()

	var out []ContextUnit
	for rows.Next() {
		var u ContextUnit
		var createdAt string
		if err := rows.Scan(&u.ID, &u.SourceName, &u.Content, &u.ContentHash, &u.AggregateScore, &u.FeedbackCount, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListRecentFeedback returns up to limit of the most recently submitted
// feedback records, newest first.
func (c *ColdStore) ListRecentFeedback(ctx context.Context, limit int) ([]FeedbackRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, response_id, user_id, score, text, created_at, updated_at
		FROM feedback ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindStorage, "provenance.ListRecentFeedback", err, "querying feedback")
	}
	defer rows.Close()

	var out []FeedbackRecord
	for rows.Next() {
		var f FeedbackRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&f.ID, &f.ResponseID, &f.UserID, &f.Score, &f.Text, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		f.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListFeedbackForResponse returns every feedback record submitted against
// one response, used by get-trace to show the full rating history.
func (c *ColdStore) ListFeedbackForResponse(ctx context.Context, responseID string) ([]FeedbackRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, response_id, user_id, score, text, created_at, updated_at
		FROM feedback WHERE response_id = ? ORDER BY updated_at ASC`, responseID)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindStorage, "provenance.ListFeedbackForResponse", err, "querying feedback")
	}
	defer rows.Close()

	var out []FeedbackRecord
	for rows.Next() {
		var f FeedbackRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&f.ID, &f.ResponseID, &f.UserID, &f.Score, &f.Text, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		f.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListResponsesForContextUnit returns every response id that a context
// unit contributed to, used by query-context-impact and
// get-evolution-history to walk a unit's usage history.
func (c *ColdStore) ListResponsesForContextUnit(ctx context.Context, contextUnitID string) ([]LineageEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT response_id, weight FROM lineage_entries WHERE context_unit_id = ? ORDER BY rowid ASC`, contextUnitID)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindStorage, "provenance.ListResponsesForContextUnit", err, "querying lineage")
	}
	defer rows.Close()

	var out []LineageEntry
	for rows.Next() {
		var e LineageEntry
		if err := rows.Scan(&e.ContextUnitID, &e.Weight); err != nil {
			return nil, err
		}
		e.ContextUnitID = contextUnitID
		out = append(out, e)
	}
	return out, rows.Err()
}

// TopRatedContexts delegates to the cold tier's score-ordered listing.
func (s *Store) TopRatedContexts(ctx context.Context, limit int) ([]ContextUnit, error) {
	return s.cold.ListContextUnitsByScore(ctx, true, limit)
}

// DeprecatedContexts returns every context unit whose aggregate score has
// fallen below threshold, advisory only per the spec's deprecation rule.
func (s *Store) DeprecatedContexts(ctx context.Context, threshold float64, limit int) ([]ContextUnit, error) {
	candidates, err := s.cold.ListContextUnitsByScore(ctx, false, limit)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, c := range candidates {
		if c.Deprecated(threshold) {
			out = append(out, c)
		}
	}
	return out, nil
}

// RecentFeedback delegates to the cold tier's recency-ordered listing.
func (s *Store) RecentFeedback(ctx context.Context, limit int) ([]FeedbackRecord, error) {
	return s.cold.ListRecentFeedback(ctx, limit)
}

// GetTrace assembles one response's full lineage manifest together with
// every feedback record submitted against it, the data behind the
// get-trace tracing tool.
func (s *Store) GetTrace(ctx context.Context, responseID string) (LineageManifest, []FeedbackRecord, error) {
	manifest, err := s.cold.GetLineageManifest(ctx, responseID)
	if err != nil {
		return LineageManifest{}, nil, err
	}
	feedback, err := s.cold.ListFeedbackForResponse(ctx, responseID)
	if err != nil {
		return LineageManifest{}, nil, err
	}
	return manifest, feedback, nil
}

// ContextImpact summarizes a single context unit's measured influence: the
// unit itself and every response it contributed to.
type ContextImpact struct {
	Unit      ContextUnit
	Responses []LineageEntry
}

// QueryContextImpact answers "which responses did this context unit
// influence, and at what weight" for the query-context-impact tool.
func (s *Store) QueryContextImpact(ctx context.Context, contextUnitID string) (ContextImpact, error) {
	unit, err := s.GetContextUnit(ctx, contextUnitID)
	if err != nil {
		return ContextImpact{}, err
	}
	responses, err := s.cold.ListResponsesForContextUnit(ctx, contextUnitID)
	if err != nil {
		return ContextImpact{}, err
	}
	return ContextImpact{Unit: unit, Responses: responses}, nil
}

// CacheStats reports the hot tier's current admission/eviction counters for
// the cache-statistics quality resource.
type CacheStats struct {
	Hits          uint64
	Misses        uint64
	KeysAdded     uint64
	KeysEvicted   uint64
	CostAdded     uint64
	CostEvicted   uint64
}

// CacheStatistics returns the hot tier's current metrics snapshot.
func (s *Store) CacheStatistics() CacheStats {
	return s.hot.Stats()
}
