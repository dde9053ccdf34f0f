// Package episodic defines the read interface over episodic memory:
// per-tool/capability success/failure aggregates for a hashed workflow
// context, used to adjust Predictor confidence.
package episodic

import (
	"hash/fnv"
	"strconv"
)

// Aggregate is one tool or capability's observed outcomes within a given
// workflow context.
type Aggregate struct {
	Total     int
	Successes int
	Failures  int
}

// SuccessRate returns Successes/Total, or 0 if there are no observations.
func (a Aggregate) SuccessRate() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Successes) / float64(a.Total)
}

// FailureRate returns Failures/Total, or 0 if there are no observations.
func (a Aggregate) FailureRate() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Failures) / float64(a.Total)
}

// Store looks up aggregates for a hashed workflow context.
type Store interface {
	// Lookup returns the aggregate for targetID within contextHash, if any.
	Lookup(contextHash string, targetID string) (Aggregate, bool)
}

// HashContext derives the stable context key Predictor looks episodic
// aggregates up by. Exposed so callers (Suggester, Predictor) hash
// consistently.
func HashContext(workflowState []string) string {
	h := fnv.New64a()
	for _, s := range workflowState {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
