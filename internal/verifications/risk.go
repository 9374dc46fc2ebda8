package verifications

// AggregateRisk combines per-document findings and consistency failures into
// an overall classification and score. The thresholds are fixed and must not
// change without versioning the stored results.
func AggregateRisk(findings []Finding, checks []ConsistencyCheck) (string, int) {
	highCount := 0
	mediumCount := 0
	for _, f := range findings {
		switch f.RiskLevel {
		case RiskHigh:
			highCount++
		case RiskMedium:
			mediumCount++
		}
	}

	failedChecks := 0
	for _, c := range checks {
		if c.Status == CheckFail {
			failedChecks++
		}
	}

	if highCount > 0 || failedChecks >= 2 {
		return RiskHigh, minInt(100, 60+highCount*15+failedChecks*10)
	}
	if mediumCount > 0 || failedChecks >= 1 {
		return RiskMedium, minInt(59, 30+mediumCount*10+failedChecks*10)
	}
	// mediumCount is always 0 here; the formula is kept as-is for
	// compatibility with previously stored scores.
	return RiskLow, maxInt(0, mediumCount*5)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
