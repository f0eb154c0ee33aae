package main

import (
	"context"

	"github.com/google/uuid"

	"github.com/mcpmux/proxy/pkg/attribution"
	"github.com/mcpmux/proxy/pkg/intercept"
	"github.com/mcpmux/proxy/pkg/logging"
	"github.com/mcpmux/proxy/pkg/provenance"
)

// captureSink wires the C7 intercept proxy to the C8 attribution engine
// and the C9 provenance store: every completed capture is attributed and
// persisted, on a best-effort basis per the fail-open policy (a storage
// failure here never affects traffic already forwarded upstream).
type captureSink struct {
	attribution *attribution.Engine
	store       *provenance.Store
}

func newCaptureSink(store *provenance.Store) *captureSink {
	engine, _ := attribution.NewEngine(nil) // nil patterns never fail to compile
	return &captureSink{attribution: engine, store: store}
}

func (s *captureSink) Handle(ctx context.Context, c intercept.Capture) {
	attrs := s.attribution.Attribute(c.RequestBody)

	requestID := uuid.NewString()
	rows := make([]provenance.AttributionRow, 0, len(attrs))
	for _, a := range attrs {
		rows = append(rows, provenance.AttributionRow{
			ID:            uuid.NewString(),
			Source:        string(a.Source),
			SourceName:    a.SourceName,
			ContentHash:   a.ContentHash,
			TokenEstimate: a.TokenEstimate,
		})
	}

	req := provenance.CapturedRequest{
		ID:         requestID,
		Host:       c.Host,
		Method:     "POST",
		HeaderText: intercept.RedactedHeaderString(c.RequestHeader),
		Body:       c.RequestBody,
		DurationMS: c.Duration.Milliseconds(),
		CapturedAt: c.StartedAt,
	}

	if err := s.store.RecordCapture(ctx, req, rows); err != nil {
		logging.Error("capture", err, "recording captured request for %s", c.Host)
	}
}
