package provenance

import (
	"math"
	"strings"

	"github.com/mcpmux/proxy/pkg/mcperr"
)

// MaxFeedbackTextLength bounds the free-text comment on a feedback
// submission to keep a single malicious or accidental submission from
// bloating the cold tier.
const MaxFeedbackTextLength = 4096

// dangerousTextPatterns rejects obvious injection attempts in free-text
// feedback before it is ever persisted or rendered back in a management
// API response.
var dangerousTextPatterns = []string{"<script", "javascript:", "\x00"}

// ValidateFeedback checks a feedback submission's score and text before
// ApplyFeedback propagates it, per the spec's requirement that scores be
// finite values in [-1, 1] and text be bounded and free of dangerous
// patterns.
func ValidateFeedback(score float64, text string) error {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return mcperr.New(mcperr.KindValidation, "provenance.ValidateFeedback", "score must be a finite number")
	}
	if score < -1 || score > 1 {
		return mcperr.New(mcperr.KindValidation, "provenance.ValidateFeedback", "score must be in [-1, 1]")
	}
	if len(text) > MaxFeedbackTextLength {
		return mcperr.New(mcperr.KindValidation, "provenance.ValidateFeedback", "text exceeds maximum length")
	}
	lower := strings.ToLower(text)
	for _, pattern := range dangerousTextPatterns {
		if strings.Contains(lower, pattern) {
			return mcperr.New(mcperr.KindValidation, "provenance.ValidateFeedback", "text contains a disallowed pattern")
		}
	}
	return nil
}
