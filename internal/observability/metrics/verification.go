package metrics

import "time"

// VerificationOutcome records a completed verification.
func VerificationOutcome(outcome string) {
	if !enabled {
		return
	}
	verificationTotal.WithLabelValues(outcome).Inc()
}

// StageDuration records how long a verification stage took.
func StageDuration(stage string, d time.Duration) {
	if !enabled {
		return
	}
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// StageFailure records an infrastructure failure in a stage.
func StageFailure(stage string) {
	if !enabled {
		return
	}
	stageFailuresTotal.WithLabelValues(stage).Inc()
}

// VerificationStarted increments the in-progress gauge and returns a func
// that decrements it.
func VerificationStarted() func() {
	if !enabled {
		return func() {}
	}
	verificationsActive.Inc()
	return verificationsActive.Dec
}
