package scoring

import "fmt"

// Factor thresholds. They read raw snapshot fields, not the score, so a
// high score can still carry negative factors.
const (
	highVolume          = 10000.0
	lowVolume           = 1000.0
	longHistoryDays     = 365
	excellentSuccess    = 0.9
	activeDeFiProtocols = 2
	inactiveDays        = 30
)

// Factor messages.
const (
	FactorHighVolume       = "High transaction volume"
	FactorLongHistory      = "Long account history"
	FactorExcellentSuccess = "Excellent transaction success rate"
	FactorActiveDeFi       = "Active DeFi user"
	FactorGoodRepayment    = "Good lending repayment history"

	FactorHighFailureRate = "High transaction failure rate"
	FactorInactive        = "Inactive account (30+ days)"
	FactorLowVolume       = "Low transaction volume"
)

// DefaultsFactor is the negative factor reported for n lending defaults.
func DefaultsFactor(n int) string {
	return fmt.Sprintf("%d lending default(s)", n)
}

// AnalyzeFactors derives positive and negative explanations from s.
// Every check runs; order is fixed.
func AnalyzeFactors(s Snapshot) Factors {
	f := Factors{
		Positive: []string{},
		Negative: []string{},
	}

	if s.TotalVolume > highVolume {
		f.Positive = append(f.Positive, FactorHighVolume)
	}
	if s.DaysSinceFirstTx > longHistoryDays {
		f.Positive = append(f.Positive, FactorLongHistory)
	}
	if float64(s.SuccessfulTransactions)/atLeastOne(float64(s.TotalTransactions)) > excellentSuccess {
		f.Positive = append(f.Positive, FactorExcellentSuccess)
	}
	if s.ProtocolCount() > activeDeFiProtocols {
		f.Positive = append(f.Positive, FactorActiveDeFi)
	}
	if s.LendingHistory.Repaid > s.LendingHistory.Borrowed {
		f.Positive = append(f.Positive, FactorGoodRepayment)
	}

	if s.LendingHistory.Defaults > 0 {
		f.Negative = append(f.Negative, DefaultsFactor(s.LendingHistory.Defaults))
	}
	if float64(s.FailedTransactions) > float64(s.SuccessfulTransactions)*failureRatio {
		f.Negative = append(f.Negative, FactorHighFailureRate)
	}
	if s.DaysSinceLastTx > inactiveDays {
		f.Negative = append(f.Negative, FactorInactive)
	}
	if s.TotalVolume < lowVolume {
		f.Negative = append(f.Negative, FactorLowVolume)
	}

	return f
}
