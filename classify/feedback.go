package classify

import (
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/intentwise/cascade/learning"
)

// ProcessFeedback applies an explicit user correction: the query is pinned
// to correctedIntent at confidence 0.99 and becomes a learned example for
// that intent. Corrections flush to disk immediately because they are worth
// more than ordinary learning events.
func (s *Service) ProcessFeedback(query, originalIntent, correctedIntent, userID string) error {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return errors.New("feedback query is empty")
	}
	if !s.registry.Valid(correctedIntent) {
		return errors.Errorf("corrected intent %q is not in the catalog", correctedIntent)
	}

	corr := s.store.RecordCorrection(query, normalized, originalIntent, correctedIntent, userID)

	// The hot cache may still hold the pre-correction record.
	s.hot.Remove(learning.QueryHash(normalized))

	s.counters.feedback.Add(1)
	s.metrics.feedback.Inc()

	slog.Info("cascade: correction recorded",
		"correction_id", corr.ID,
		"original_intent", originalIntent,
		"corrected_intent", correctedIntent,
		"user_id", userID)
	return nil
}
