package scoring

import "math"

// Weights scale each capped sub-score before it is added to the base.
// They must sum to 1.0.
type Weights struct {
	Volume    float64
	Frequency float64
	Age       float64
	Success   float64
	DeFi      float64
	Lending   float64
	Gas       float64
}

// DefaultWeights are the production weights.
var DefaultWeights = Weights{
	Volume:    0.25,
	Frequency: 0.20,
	Age:       0.15,
	Success:   0.15,
	DeFi:      0.10,
	Lending:   0.10,
	Gas:       0.05,
}

// Sub-score caps, applied before weighting.
const (
	volumeCap    = 150.0
	frequencyCap = 100.0
	ageCap       = 100.0
	defiCap      = 50.0
	lendingCap   = 100.0
	gasCap       = 50.0

	// volumeSaturation is the volume at which the volume sub-score hits its cap.
	volumeSaturation = 10000.0

	neutralLending = 50.0

	defaultPenalty     = 50.0
	failureRatePenalty = 100.0
	failureRatio       = 0.3
)

// SubScores is the weighted contribution of each component to the raw score.
type SubScores struct {
	Volume    float64 `json:"volume"`
	Frequency float64 `json:"frequency"`
	Age       float64 `json:"age"`
	Success   float64 `json:"success"`
	DeFi      float64 `json:"defi"`
	Lending   float64 `json:"lending"`
	Gas       float64 `json:"gas"`
}

// Total returns the sum of all weighted contributions.
func (c SubScores) Total() float64 {
	return c.Volume + c.Frequency + c.Age + c.Success + c.DeFi + c.Lending + c.Gas
}

// ComputeSubScores returns the weighted sub-scores for s. Penalties are not included.
func ComputeSubScores(s Snapshot) SubScores {
	w := DefaultWeights

	volume := math.Min(volumeCap, s.TotalVolume/volumeSaturation*volumeCap)

	frequency := math.Min(frequencyCap, float64(s.TotalTransactions)/atLeastOne(float64(s.DaysSinceFirstTx))*10)

	age := math.Min(ageCap, float64(s.DaysSinceFirstTx)*0.5)

	success := float64(s.SuccessfulTransactions) / atLeastOne(float64(s.TotalTransactions)) * 100

	defi := math.Min(defiCap, float64(s.ProtocolCount())*10)

	gasEfficiency := s.TotalVolume / atLeastOne(s.GasSpent)
	gas := math.Min(gasCap, gasEfficiency/100)

	return SubScores{
		Volume:    volume * w.Volume,
		Frequency: frequency * w.Frequency,
		Age:       age * w.Age,
		Success:   success * w.Success,
		DeFi:      defi * w.DeFi,
		Lending:   LendingScore(s.LendingHistory) * w.Lending,
		Gas:       gas * w.Gas,
	}
}

// RawScore computes the unrounded score for s, clamped to [MinScore, MaxScore].
func RawScore(s Snapshot) float64 {
	score := float64(MinScore) + ComputeSubScores(s).Total()

	if s.LendingHistory.Defaults > 0 {
		score -= float64(s.LendingHistory.Defaults) * defaultPenalty
	}

	if float64(s.FailedTransactions) > float64(s.SuccessfulTransactions)*failureRatio {
		score -= failureRatePenalty
	}

	return clamp(score, MinScore, MaxScore)
}

// LendingScore rates a lending history in [0, 100].
// A wallet that never borrowed gets the neutral 50 whatever else is recorded.
func LendingScore(h LendingHistory) float64 {
	if h.Borrowed == 0 {
		return neutralLending
	}

	repaymentRate := h.Repaid / atLeastOne(h.Borrowed)
	defaultRate := float64(h.Defaults) / atLeastOne(h.Borrowed)

	score := neutralLending + repaymentRate*50 - defaultRate*100
	return clamp(score, 0, lendingCap)
}

// atLeastOne guards divisions: denominators below 1 (including zero) become 1.
func atLeastOne(v float64) float64 {
	return math.Max(1, v)
}

// clamp bounds v to [lo, hi]. NaN collapses to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
