package provenance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mcpmux/proxy/pkg/mcperr"
)

// UpsertFeedback inserts a FeedbackRecord, or updates it in place if one
// already exists for (ResponseID, UserID) — the spec's idempotence
// requirement: resubmission replaces the prior rating rather than
// double-counting it. It returns the previous record (zero value, false
// if none existed) so the caller can compute the propagation delta.
func (c *ColdStore) UpsertFeedback(ctx context.Context, f FeedbackRecord) (previous FeedbackRecord, hadPrevious bool, err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return FeedbackRecord{}, false, mcperr.Wrap(mcperr.KindStorage, "provenance.UpsertFeedback", err, "beginning transaction")
	}
	defer tx.Rollback()

	var prevScore float64
	var prevText, prevCreated string
	scanErr := tx.QueryRowContext(ctx, `
		SELECT score, text, created_at FROM feedback WHERE response_id = ? AND user_id = ?`,
		f.ResponseID, f.UserID).Scan(&prevScore, &prevText, &prevCreated)
	switch {
	case scanErr == nil:
		hadPrevious = true
		previous = FeedbackRecord{ResponseID: f.ResponseID, UserID: f.UserID, Score: prevScore, Text: prevText}
		previous.CreatedAt, _ = time.Parse(time.RFC3339Nano, prevCreated)
	case errors.Is(scanErr, sql.ErrNoRows):
		hadPrevious = false
	default:
		return FeedbackRecord{}, false, mcperr.Wrap(mcperr.KindStorage, "provenance.UpsertFeedback", scanErr, "checking for existing feedback")
	}

	now := time.Now().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO feedback (id, response_id, user_id, score, text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(response_id, user_id) DO UPDATE SET
			score=excluded.score, text=excluded.text, updated_at=excluded.updated_at`,
		f.ID, f.ResponseID, f.UserID, f.Score, f.Text, now, now)
	if err != nil {
		return FeedbackRecord{}, false, mcperr.Wrap(mcperr.KindStorage, "provenance.UpsertFeedback", err, "upserting feedback")
	}

	if err := tx.Commit(); err != nil {
		return FeedbackRecord{}, false, mcperr.Wrap(mcperr.KindStorage, "provenance.UpsertFeedback", err, "committing feedback")
	}
	return previous, hadPrevious, nil
}

// HasFeedback reports whether a FeedbackRecord exists for (responseID, userID).
func (c *ColdStore) HasFeedback(ctx context.Context, responseID, userID string) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM feedback WHERE response_id = ? AND user_id = ?`, responseID, userID).Scan(&count)
	if err != nil {
		return false, mcperr.Wrap(mcperr.KindStorage, "provenance.HasFeedback", err, "checking existing feedback")
	}
	return count > 0, nil
}

// ApplyContextUnitDelta updates one context unit's aggregate score and
// feedback count and, in the same transaction, its source's aggregate
// metrics row. The feedback row itself is written beforehand by
// UpsertFeedback in its own transaction, so the feedback insert and these
// metric updates are not committed atomically.
func (c *ColdStore) ApplyContextUnitDelta(ctx context.Context, unitID string, newScore float64, feedbackCountDelta int) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return mcperr.Wrap(mcperr.KindStorage, "provenance.ApplyContextUnitDelta", err, "beginning transaction")
	}
	defer tx.Rollback()

	var sourceName string
	if err := tx.QueryRowContext(ctx, `SELECT source_name FROM context_units WHERE id = ?`, unitID).Scan(&sourceName); err != nil {
		return mcperr.Wrap(mcperr.KindStorage, "provenance.ApplyContextUnitDelta", err, "looking up context unit source")
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE context_units SET aggregate_score = ?, feedback_count = feedback_count + ? WHERE id = ?`,
		newScore, feedbackCountDelta, unitID); err != nil {
		return mcperr.Wrap(mcperr.KindStorage, "provenance.ApplyContextUnitDelta", err, "updating context unit")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO source_metrics (source_name, context_count, total_feedback, average_score)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(source_name) DO UPDATE SET
			total_feedback = source_metrics.total_feedback + ?,
			average_score = (source_metrics.average_score * source_metrics.total_feedback + ?) / (source_metrics.total_feedback + ?)`,
		sourceName, feedbackCountDelta, newScore, feedbackCountDelta, newScore*float64(feedbackCountDelta), feedbackCountDelta); err != nil {
		return mcperr.Wrap(mcperr.KindStorage, "provenance.ApplyContextUnitDelta", err, "updating source metrics")
	}

	return tx.Commit()
}

// RunRetention deletes captured requests (and, via cascade, their
// responses and attributions) older than olderThan. Aggregate source
// metrics are untouched since they are not time-keyed.
func (c *ColdStore) RunRetention(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM captured_requests WHERE captured_at < ?`, olderThan.Format(time.RFC3339Nano))
	if err != nil {
		return 0, mcperr.Wrap(mcperr.KindStorage, "provenance.RunRetention", err, "deleting expired requests")
	}
	return res.RowsAffected()
}

// ListCapturedRequests lists captured requests within [since, until),
// optionally filtered by host, paginated by limit/offset.
func (c *ColdStore) ListCapturedRequests(ctx context.Context, since, until time.Time, host string, limit, offset int) ([]CapturedRequest, error) {
	query := `SELECT id, host, method, header_text, captured_at, duration_ms FROM captured_requests
		WHERE captured_at >= ? AND captured_at < ?`
	args := []interface{}{since.Format(time.RFC3339Nano), until.Format(time.RFC3339Nano)}
	if host != "" {
		query += ` AND host = ?`
		args = append(args, host)
	}
	query += ` ORDER BY captured_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindStorage, "provenance.ListCapturedRequests", err, "querying requests")
	}
	defer rows.Close()

	var out []CapturedRequest
	for rows.Next() {
		var r CapturedRequest
		var capturedAt string
		if err := rows.Scan(&r.ID, &r.Host, &r.Method, &r.HeaderText, &capturedAt, &r.DurationMS); err != nil {
			return nil, err
		}
		r.CapturedAt, _ = time.Parse(time.RFC3339Nano, capturedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
