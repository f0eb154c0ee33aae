package provenance

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mcpmux/proxy/pkg/mcperr"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ColdStore is the durable SQLite-backed tier. Pure-Go modernc.org/sqlite
// is used (instead of a cgo sqlite3 driver) so the proxy builds without a
// C toolchain, matching the rest of the reference corpus's pure-Go
// dependency choices.
type ColdStore struct {
	db *sql.DB
}

// OpenColdStore opens (creating if necessary) the SQLite database at path
// and migrates it to the latest schema version via goose.
func OpenColdStore(path string) (*ColdStore, error) {
	// foreign_keys is off by default in SQLite; turn it on so the schema's
	// REFERENCES and ON DELETE CASCADE clauses are enforced.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindStorage, "provenance.OpenColdStore", err, "opening database")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, mcperr.Wrap(mcperr.KindStorage, "provenance.OpenColdStore", err, "setting migration dialect")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, mcperr.Wrap(mcperr.KindStorage, "provenance.OpenColdStore", err, "applying migrations")
	}

	return &ColdStore{db: db}, nil
}

func (c *ColdStore) Close() error { return c.db.Close() }

// PutContextUnit inserts or replaces a ContextUnit row.
func (c *ColdStore) PutContextUnit(ctx context.Context, u ContextUnit) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO context_units (id, source_name, content, content_hash, aggregate_score, feedback_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_name=excluded.source_name, content=excluded.content, content_hash=excluded.content_hash,
			aggregate_score=excluded.aggregate_score, feedback_count=excluded.feedback_count`,
		u.ID, u.SourceName, u.Content, u.ContentHash, u.AggregateScore, u.FeedbackCount, u.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return mcperr.Wrap(mcperr.KindStorage, "provenance.PutContextUnit", err, "upserting context unit")
	}
	return nil
}

// GetContextUnit reads one ContextUnit by id.
func (c *ColdStore) GetContextUnit(ctx context.Context, id string) (ContextUnit, error) {
	var u ContextUnit
	var createdAt string
	err := c.db.QueryRowContext(ctx, `
		SELECT id, source_name, content, content_hash, aggregate_score, feedback_count, created_at
		FROM context_units WHERE id = ?`, id).
		Scan(&u.ID, &u.SourceName, &u.Content, &u.ContentHash, &u.AggregateScore, &u.FeedbackCount, &createdAt)
	if err != nil {
		return ContextUnit{}, mcperr.Wrap(mcperr.KindStorage, "provenance.GetContextUnit", err, fmt.Sprintf("fetching %s", id))
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return u, nil
}

// PutCapturedRequest inserts a captured request row together with its
// attributions in one transaction.
func (c *ColdStore) PutCapturedRequest(ctx context.Context, req CapturedRequest, attributions []AttributionRow) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return mcperr.Wrap(mcperr.KindStorage, "provenance.PutCapturedRequest", err, "beginning transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO captured_requests (id, host, method, header_text, body, truncated, captured_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Host, req.Method, req.HeaderText, req.Body, boolToInt(req.Truncated), req.CapturedAt.Format(time.RFC3339Nano), req.DurationMS)
	if err != nil {
		return mcperr.Wrap(mcperr.KindStorage, "provenance.PutCapturedRequest", err, "inserting request")
	}

	for _, a := range attributions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attributions (id, request_id, source, source_name, content_hash, token_estimate)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, req.ID, a.Source, a.SourceName, a.ContentHash, a.TokenEstimate)
		if err != nil {
			return mcperr.Wrap(mcperr.KindStorage, "provenance.PutCapturedRequest", err, "inserting attribution")
		}
	}

	return tx.Commit()
}

// AttributionRow is the cold-tier persisted form of a ContextAttribution.
type AttributionRow struct {
	ID            string
	Source        string
	SourceName    string
	ContentHash   string
	TokenEstimate int
}

// PutLineageManifest replaces the lineage entries for one response.
func (c *ColdStore) PutLineageManifest(ctx context.Context, m LineageManifest) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return mcperr.Wrap(mcperr.KindStorage, "provenance.PutLineageManifest", err, "beginning transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO responses (id, request_id, created_at) VALUES (?, NULL, ?)
		ON CONFLICT(id) DO NOTHING`, m.ResponseID, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return mcperr.Wrap(mcperr.KindStorage, "provenance.PutLineageManifest", err, "ensuring response row")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lineage_entries WHERE response_id = ?`, m.ResponseID); err != nil {
		return mcperr.Wrap(mcperr.KindStorage, "provenance.PutLineageManifest", err, "clearing prior lineage")
	}
	for _, e := range m.Entries {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO lineage_entries (response_id, context_unit_id, weight) VALUES (?, ?, ?)`,
			m.ResponseID, e.ContextUnitID, e.Weight)
		if err != nil {
			return mcperr.Wrap(mcperr.KindStorage, "provenance.PutLineageManifest", err, "inserting lineage entry")
		}
	}

	return tx.Commit()
}

// GetLineageManifest reads the lineage entries for one response.
func (c *ColdStore) GetLineageManifest(ctx context.Context, responseID string) (LineageManifest, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT context_unit_id, weight FROM lineage_entries WHERE response_id = ?`, responseID)
	if err != nil {
		return LineageManifest{}, mcperr.Wrap(mcperr.KindStorage, "provenance.GetLineageManifest", err, "querying lineage")
	}
	defer rows.Close()

	m := LineageManifest{ResponseID: responseID}
	for rows.Next() {
		var e LineageEntry
		if err := rows.Scan(&e.ContextUnitID, &e.Weight); err != nil {
			return LineageManifest{}, err
		}
		m.Entries = append(m.Entries, e)
	}
	return m, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
