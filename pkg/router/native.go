package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcpmux/proxy/pkg/feedback"
	"github.com/mcpmux/proxy/pkg/mcperr"
	"github.com/mcpmux/proxy/pkg/provenance"
)

// DefaultDeprecationThreshold is the aggregate score below which a context
// unit is flagged deprecated in the quality resources, per the spec's
// example threshold.
const DefaultDeprecationThreshold = -0.5

const defaultListLimit = 50

// NativeTools builds the proxy's own tracing tools (get-trace,
// query-context-impact, get-response-contexts, get-evolution-history,
// submit-feedback), grounded in the teacher's pattern of exposing "core"
// tools by plain name alongside aggregated backend tools
// (AggregatorServer.isCoreToolByName/callCoreToolDirectly). Each tool is
// invoked directly by Dispatch without ever touching a backend pool.
func NativeTools(store *provenance.Store, engine *feedback.Engine) func() []ToolEntry {
	return func() []ToolEntry {
		return []ToolEntry{
			{
				ExportedName: "get-trace",
				Description:  "Return the full lineage manifest and feedback history for one response.",
				InputSchema:  objectSchema("response_id"),
				Handler:      handleGetTrace(store),
			},
			{
				ExportedName: "query-context-impact",
				Description:  "Return one context unit and every response it contributed to.",
				InputSchema:  objectSchema("context_unit_id"),
				Handler:      handleQueryContextImpact(store),
			},
			{
				ExportedName: "get-response-contexts",
				Description:  "Return the weighted set of context units that produced one response.",
				InputSchema:  objectSchema("response_id"),
				Handler:      handleGetResponseContexts(store),
			},
			{
				ExportedName: "get-evolution-history",
				Description:  "Return how one context unit's aggregate score and feedback count have changed, via its response-contribution history.",
				InputSchema:  objectSchema("context_unit_id"),
				Handler:      handleGetEvolutionHistory(store),
			},
			{
				ExportedName: "submit-feedback",
				Description:  "Rate a response; resubmission by the same user replaces their prior rating rather than double-counting it.",
				InputSchema: map[string]interface{}{
					"type":     "object",
					"required": []string{"response_id", "user_id", "score"},
					"properties": map[string]interface{}{
						"response_id": map[string]interface{}{"type": "string"},
						"user_id":     map[string]interface{}{"type": "string"},
						"score":       map[string]interface{}{"type": "number", "minimum": -1, "maximum": 1},
						"text":        map[string]interface{}{"type": "string"},
					},
				},
				Handler: handleSubmitFeedback(engine),
			},
		}
	}
}

// NativeResources builds the read-only quality resources the spec
// requires: top-rated contexts, deprecated contexts, recent feedback, and
// cache statistics. Each returns a time-bounded snapshot computed at read
// time rather than cached.
func NativeResources(store *provenance.Store) func() []ResourceEntry {
	return func() []ResourceEntry {
		return []ResourceEntry{
			{
				URI:  "quality://top-rated-contexts",
				Name: "Top-rated contexts",
				Handler: func(ctx context.Context) (json.RawMessage, error) {
					units, err := store.TopRatedContexts(ctx, defaultListLimit)
					if err != nil {
						return nil, err
					}
					return json.Marshal(units)
				},
			},
			{
				URI:  "quality://deprecated-contexts",
				Name: "Deprecated contexts",
				Handler: func(ctx context.Context) (json.RawMessage, error) {
					units, err := store.DeprecatedContexts(ctx, DefaultDeprecationThreshold, defaultListLimit)
					if err != nil {
						return nil, err
					}
					return json.Marshal(units)
				},
			},
			{
				URI:  "quality://recent-feedback",
				Name: "Recent feedback",
				Handler: func(ctx context.Context) (json.RawMessage, error) {
					records, err := store.RecentFeedback(ctx, defaultListLimit)
					if err != nil {
						return nil, err
					}
					return json.Marshal(records)
				},
			},
			{
				URI:  "quality://cache-statistics",
				Name: "Cache statistics",
				Handler: func(ctx context.Context) (json.RawMessage, error) {
					return json.Marshal(store.CacheStatistics())
				},
			},
		}
	}
}

func objectSchema(requiredField string) map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{requiredField},
		"properties": map[string]interface{}{
			requiredField: map[string]interface{}{"type": "string"},
		},
	}
}

func handleGetTrace(store *provenance.Store) ToolHandler {
	return func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		responseID, ok := args["response_id"].(string)
		if !ok || responseID == "" {
			return nil, mcperr.New(mcperr.KindValidation, "router.get-trace", "response_id is required")
		}
		manifest, feedback, err := store.GetTrace(ctx, responseID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]interface{}{"manifest": manifest, "feedback": feedback})
	}
}

func handleQueryContextImpact(store *provenance.Store) ToolHandler {
	return func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		unitID, ok := args["context_unit_id"].(string)
		if !ok || unitID == "" {
			return nil, mcperr.New(mcperr.KindValidation, "router.query-context-impact", "context_unit_id is required")
		}
		impact, err := store.QueryContextImpact(ctx, unitID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(impact)
	}
}

func handleGetResponseContexts(store *provenance.Store) ToolHandler {
	return func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		responseID, ok := args["response_id"].(string)
		if !ok || responseID == "" {
			return nil, mcperr.New(mcperr.KindValidation, "router.get-response-contexts", "response_id is required")
		}
		manifest, err := store.GetLineageManifest(ctx, responseID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(manifest)
	}
}

func handleGetEvolutionHistory(store *provenance.Store) ToolHandler {
	return func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		unitID, ok := args["context_unit_id"].(string)
		if !ok || unitID == "" {
			return nil, mcperr.New(mcperr.KindValidation, "router.get-evolution-history", "context_unit_id is required")
		}
		impact, err := store.QueryContextImpact(ctx, unitID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]interface{}{
			"context_unit_id": unitID,
			"current_score":   impact.Unit.AggregateScore,
			"feedback_count":  impact.Unit.FeedbackCount,
			"contributions":   impact.Responses,
		})
	}
}

func handleSubmitFeedback(engine *feedback.Engine) ToolHandler {
	return func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
		responseID, _ := args["response_id"].(string)
		userID, _ := args["user_id"].(string)
		score, ok := args["score"].(float64)
		if responseID == "" || userID == "" || !ok {
			return nil, mcperr.New(mcperr.KindValidation, "router.submit-feedback", "response_id, user_id and score are required")
		}
		text, _ := args["text"].(string)

		if err := engine.Submit(ctx, responseID, userID, score, text); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]interface{}{"status": fmt.Sprintf("feedback recorded for %s", responseID)})
	}
}
