package scoring

import "math"

// Credit line bounds, in the snapshot's currency.
const (
	BaseCreditLimit = 1000.0
	MaxCreditLine   = 50000.0

	// estimateRatio and estimateCap shape the placeholder balance.
	estimateRatio = 0.1
	estimateCap   = 10000.0
)

// tierThresholds lists the minimum score for each tier, highest first.
var tierThresholds = []struct {
	min   float64
	level RiskLevel
}{
	{750, RiskExcellent},
	{700, RiskGood},
	{650, RiskFair},
	{600, RiskPoor},
}

// Classify maps a score to its risk tier.
func Classify(score float64) RiskLevel {
	for _, t := range tierThresholds {
		if score >= t.min {
			return t.level
		}
	}
	return RiskVeryPoor
}

// MaxCreditLimit interpolates linearly between BaseCreditLimit and MaxCreditLine
// by score/850, rounded to the nearest unit.
func MaxCreditLimit(score float64) float64 {
	multiplier := score / MaxScore
	return math.Round(BaseCreditLimit + (MaxCreditLine-BaseCreditLimit)*multiplier)
}

// AvailableCredit is the max limit less the outstanding balance, never negative.
// A negative balance counts as zero so available never exceeds the limit.
func AvailableCredit(score, outstanding float64) float64 {
	if math.IsNaN(outstanding) || outstanding < 0 {
		outstanding = 0
	}
	return math.Max(0, MaxCreditLimit(score)-outstanding)
}

// EstimatedBalance is a crude stand-in for a ledger balance: 10% of lifetime
// volume, capped at 10,000. Callers with real ledger data should use
// EvaluateWithBalance instead.
func EstimatedBalance(s Snapshot) float64 {
	return math.Min(s.TotalVolume*estimateRatio, estimateCap)
}
