// Package provenance implements the hybrid hot/cold store tracking which
// contexts contributed to which responses, and the feedback that rates
// them. The hot tier is an in-memory ristretto cache bounded by memory
// cost with LRU-style eviction; the cold tier is a durable SQLite
// database migrated with goose. Every write is write-through: the cold
// tier is always updated first, so eviction from hot never loses data
// (every id present in the hot tier is also present in the cold tier).
package provenance

import "time"

// ContextUnit is one piece of context (a document, a tool result, a
// framework instruction) that may have contributed to zero or more
// responses.
type ContextUnit struct {
	ID             string
	SourceName     string
	Content        string
	ContentHash    string
	AggregateScore float64
	FeedbackCount  int
	CreatedAt      time.Time
}

// Deprecated reports whether this unit's aggregate score has fallen below
// the configured deprecation threshold. It is advisory only: deprecated
// units are flagged in quality resources but never removed.
func (c ContextUnit) Deprecated(threshold float64) bool {
	return c.AggregateScore < threshold
}

// LineageEntry is one contributing ContextUnit's normalized weight toward
// a single response.
type LineageEntry struct {
	ContextUnitID string
	Weight        float64
}

// LineageManifest is the full weighted set of contexts that produced one
// response. Weights are normalized to sum to 1.0 within floating-point
// epsilon.
type LineageManifest struct {
	ResponseID string
	Entries    []LineageEntry
}

// WeightSum returns the sum of all entry weights, used to validate the
// sum-to-1.0 invariant.
func (m LineageManifest) WeightSum() float64 {
	var sum float64
	for _, e := range m.Entries {
		sum += e.Weight
	}
	return sum
}

// CapturedRequest is one intercepted upstream LLM API request.
type CapturedRequest struct {
	ID          string
	Host        string
	Method      string
	HeaderText  string // redacted before storage
	Body        []byte
	Truncated   bool
	CapturedAt  time.Time
	DurationMS  int64
}

// CapturedResponse is the response half of a captured request/response pair.
type CapturedResponse struct {
	ID          string
	RequestID   string
	StatusLine  string
	Body        []byte
	Truncated   bool
	CapturedAt  time.Time
}

// FeedbackRecord is one user's rating of one response. Unique per
// (ResponseID, UserID); resubmission updates the existing row rather than
// inserting a second one.
type FeedbackRecord struct {
	ID         string
	ResponseID string
	UserID     string
	Score      float64
	Text       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SourceMetrics is the aggregated, non-time-keyed metrics row for one
// source name, preserved across retention sweeps.
type SourceMetrics struct {
	SourceName      string
	ContextCount    int
	TotalFeedback   int
	AverageScore    float64
}
