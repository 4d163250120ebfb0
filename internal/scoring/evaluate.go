package scoring

import "math"

// Neutral fallback figures, used when no snapshot can be obtained.
const (
	neutralScore     = 650
	neutralMaxCredit = 10000.0
	neutralAvailable = 5000.0
)

var neutral = Result{
	Score:           neutralScore,
	RiskLevel:       Classify(neutralScore),
	AvailableCredit: neutralAvailable,
	MaxCreditLimit:  neutralMaxCredit,
}

// NeutralResult returns the fallback result. Each call returns an
// independent copy.
func NeutralResult() Result {
	r := neutral
	r.Factors = Factors{Positive: []string{}, Negative: []string{}}
	r.Recommendations = []string{}
	return r
}

// Evaluate scores s using the estimated balance as the outstanding amount.
func Evaluate(s Snapshot) Result {
	return EvaluateWithBalance(s, EstimatedBalance(s))
}

// EvaluateWithBalance scores s against a known outstanding balance.
//
// The presented score is the raw score rounded to the nearest integer and the
// tier is classified on that integer, so score and tier always agree. Limits
// are derived from the unrounded score.
func EvaluateWithBalance(s Snapshot, outstanding float64) Result {
	raw := RawScore(s)
	score := int(math.Round(raw))

	return Result{
		Score:           score,
		RiskLevel:       Classify(float64(score)),
		AvailableCredit: AvailableCredit(raw, outstanding),
		MaxCreditLimit:  MaxCreditLimit(raw),
		Factors:         AnalyzeFactors(s),
		Recommendations: Recommend(s, raw),
	}
}
