package provenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/mcpmux/proxy/pkg/logging"
	"github.com/mcpmux/proxy/pkg/mcperr"
)

// Store combines the hot and cold tiers behind one write-through API.
type Store struct {
	hot *HotTier
	cold *ColdStore
}

// Open builds a Store with a fresh hot tier and a cold tier at dbPath.
func Open(dbPath string, hotCfg HotTierConfig) (*Store, error) {
	cold, err := OpenColdStore(dbPath)
	if err != nil {
		return nil, err
	}
	hot, err := NewHotTier(hotCfg)
	if err != nil {
		cold.Close()
		return nil, err
	}
	return &Store{hot: hot, cold: cold}, nil
}

func (s *Store) Close() error {
	s.hot.Close()
	return s.cold.Close()
}

// PutContextUnit write-throughs u: cold tier first, then hot tier, so a
// crash between the two writes never leaves the hot tier referencing a
// row that doesn't exist in cold.
func (s *Store) PutContextUnit(ctx context.Context, u ContextUnit) error {
	if err := s.cold.PutContextUnit(ctx, u); err != nil {
		return err
	}
	s.hot.Put(u)
	return nil
}

// GetContextUnit checks the hot tier first, falling back to cold on a miss
// and repopulating hot with the result.
func (s *Store) GetContextUnit(ctx context.Context, id string) (ContextUnit, error) {
	if u, ok := s.hot.Get(id); ok {
		return u, nil
	}
	u, err := s.cold.GetContextUnit(ctx, id)
	if err != nil {
		return ContextUnit{}, err
	}
	s.hot.Put(u)
	return u, nil
}

// RecordCapture persists a captured request with its attributions.
func (s *Store) RecordCapture(ctx context.Context, req CapturedRequest, attributions []AttributionRow) error {
	return s.cold.PutCapturedRequest(ctx, req, attributions)
}

// HasFeedback reports whether a FeedbackRecord already exists for
// (responseID, userID), used by the management HTTP surface to return 409
// Conflict on a bare resubmission — unlike the tracing-tool submit-feedback
// path, the REST endpoint treats a duplicate as an error unless the
// caller explicitly opts into replacing it.
func (s *Store) HasFeedback(ctx context.Context, responseID, userID string) (bool, error) {
	return s.cold.HasFeedback(ctx, responseID, userID)
}

// ListCapturedRequests exposes the cold tier's paginated, time-filtered
// request listing for the management HTTP surface.
func (s *Store) ListCapturedRequests(ctx context.Context, since, until time.Time, host string, limit, offset int) ([]CapturedRequest, error) {
	return s.cold.ListCapturedRequests(ctx, since, until, host, limit, offset)
}

// PutLineageManifest validates the sum-to-1.0 invariant (within epsilon)
// before persisting, per the spec's quantified invariant #4.
const weightSumEpsilon = 1e-6

func (s *Store) PutLineageManifest(ctx context.Context, m LineageManifest) error {
	if len(m.Entries) > 0 {
		sum := m.WeightSum()
		if sum < 1-weightSumEpsilon || sum > 1+weightSumEpsilon {
			return mcperr.New(mcperr.KindValidation, "provenance.PutLineageManifest",
				fmt.Sprintf("lineage weights sum to %f, expected 1.0", sum))
		}
	}
	return s.cold.PutLineageManifest(ctx, m)
}

// GetLineageManifest returns the lineage for one response, unconditionally
// from cold since lineage manifests are not cached in the hot tier (they
// are read far less often than individual context units).
func (s *Store) GetLineageManifest(ctx context.Context, responseID string) (LineageManifest, error) {
	return s.cold.GetLineageManifest(ctx, responseID)
}

// RenderFormat selects how RenderManifest encodes a lineage manifest.
type RenderFormat string

const (
	RenderJSON    RenderFormat = "json"
	RenderASCII   RenderFormat = "ascii"
	RenderTopK    RenderFormat = "topk"
)

// RenderManifest renders m in the requested format. RenderTopK limits the
// entries to the k highest-weighted contexts.
func RenderManifest(m LineageManifest, format RenderFormat, k int) (string, error) {
	switch format {
	case RenderASCII:
		return renderManifestASCII(m), nil
	case RenderTopK:
		entries := sortedByWeightDesc(m.Entries)
		if k > 0 && k < len(entries) {
			entries = entries[:k]
		}
		var b strings.Builder
		for _, e := range entries {
			fmt.Fprintf(&b, "%s=%.3f\n", e.ContextUnitID, e.Weight)
		}
		return b.String(), nil
	default:
		return renderJSON(m)
	}
}

// renderManifestASCII draws a manifest's contributing context units as an
// indented ASCII tree rooted at the response, heaviest-weighted unit first,
// for human review (§4.9). Built on the teacher's go-pretty table writer
// (internal/formatting/table_formatter.go) rather than hand-rolled
// fmt.Fprintf indentation.
func renderManifestASCII(m LineageManifest) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("CONTEXT UNIT"), text.FgHiCyan.Sprint("WEIGHT")})

	for _, e := range sortedByWeightDesc(m.Entries) {
		t.AppendRow(table.Row{"└─ " + e.ContextUnitID, fmt.Sprintf("%.3f", e.Weight)})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "response %s\n", m.ResponseID)
	t.SetOutputMirror(&b)
	t.Render()
	return b.String()
}

func sortedByWeightDesc(entries []LineageEntry) []LineageEntry {
	out := make([]LineageEntry, len(entries))
	copy(out, entries)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Weight > out[j-1].Weight; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// ApplyFeedback runs the full feedback-propagation algorithm: validate,
// upsert the FeedbackRecord, compute each contributing context unit's
// delta against its previous submission (idempotent per response/user),
// and apply the new aggregate scores transactionally.
func (s *Store) ApplyFeedback(ctx context.Context, responseID, userID string, score float64, text string) error {
	if err := ValidateFeedback(score, text); err != nil {
		return err
	}

	manifest, err := s.cold.GetLineageManifest(ctx, responseID)
	if err != nil {
		return err
	}

	record := FeedbackRecord{
		ID:         uuid.NewString(),
		ResponseID: responseID,
		UserID:     userID,
		Score:      score,
		Text:       text,
	}
	previous, hadPrevious, err := s.cold.UpsertFeedback(ctx, record)
	if err != nil {
		return err
	}

	for _, entry := range manifest.Entries {
		unit, err := s.GetContextUnit(ctx, entry.ContextUnitID)
		if err != nil {
			logging.Warn("provenance", "feedback propagation: context unit %s missing, skipping", entry.ContextUnitID)
			continue
		}

		newScore, countDelta := propagate(unit, entry.Weight, score, hadPrevious, previous.Score)
		if err := s.cold.ApplyContextUnitDelta(ctx, unit.ID, newScore, countDelta); err != nil {
			return err
		}
		s.hot.Invalidate(unit.ID)
	}
	return nil
}

// propagate computes one context unit's new aggregate score using the
// spec's weighted-running-average formula:
// new = (old*count + score*weight) / (count+1). When resubmitting
// (hadPrevious), the prior contribution is first backed out so the
// propagation stays idempotent per (response, user) rather than
// double-counting.
func propagate(unit ContextUnit, weight, score float64, hadPrevious bool, previousScore float64) (newScore float64, countDelta int) {
	old := unit.AggregateScore
	count := unit.FeedbackCount

	countDelta = 1
	if hadPrevious && count > 0 {
		// Back out the previous submission's contribution before
		// applying the new one, so resubmission never double-counts
		// feedback_count either.
		old = (old*float64(count) - previousScore*weight) / float64(count)
		count--
		countDelta = 0
	}

	newScore = (old*float64(count) + score*weight) / float64(count+1)
	return newScore, countDelta
}

// RunRetentionLoop periodically deletes captured requests older than
// window, mirroring the teacher's ticker-driven background-job shape
// (internal/aggregator/manager.go retryFailedRegistrations) but applied to
// storage cleanup instead of registration retries.
func RunRetentionLoop(ctx context.Context, store *Store, window time.Duration, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-window)
			removed, err := store.cold.RunRetention(ctx, cutoff)
			if err != nil {
				logging.Error("provenance", err, "retention sweep failed")
				continue
			}
			if removed > 0 {
				logging.Info("provenance", "retention removed %d captured requests older than %s", removed, cutoff.Format(time.RFC3339))
			}
		}
	}
}
