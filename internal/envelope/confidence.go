package envelope

// ScoreToTier converts a plan/prediction confidence score to a tier using the
// suggestion_reject (0.60) and suggestion_floor (0.65) thresholds from the DAG
// scoring config.
func ScoreToTier(score, rejectThreshold, floorThreshold float64) ConfidenceTier {
	if score < floorThreshold && score >= rejectThreshold {
		return TierLow
	}
	return TierHigh
}
