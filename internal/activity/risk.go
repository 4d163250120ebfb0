package activity

import (
	"math"

	"github.com/swipefi/swipefi/internal/scoring"
)

// Risk flags raised by AssessRisk.
const (
	RiskHighFailedRate = "High failed transaction rate"
	RiskInactive       = "Inactive wallet"
	RiskHighVolume     = "High transaction volume"
	RiskDeFiUsage      = "DeFi protocol usage"
)

// RiskFactors groups activity flags by severity.
type RiskFactors struct {
	High   []string `json:"highRisk"`
	Medium []string `json:"mediumRisk"`
	Low    []string `json:"lowRisk"`
}

// Assessment is a coarse activity risk rating, 0-100, higher is riskier.
// It is informational and does not feed the credit score.
type Assessment struct {
	Factors RiskFactors `json:"riskFactors"`
	Score   float64     `json:"riskScore"`
}

// AssessRisk rates the raw activity in s.
func AssessRisk(s scoring.Snapshot) Assessment {
	a := Assessment{
		Factors: RiskFactors{High: []string{}, Medium: []string{}, Low: []string{}},
		Score:   50,
	}

	total := float64(s.TotalTransactions)
	failed := float64(s.FailedTransactions)
	protocols := s.ProtocolCount()

	if failed > total*0.1 {
		a.Factors.High = append(a.Factors.High, RiskHighFailedRate)
	}
	if s.DaysSinceLastTx > 30 {
		a.Factors.Medium = append(a.Factors.Medium, RiskInactive)
	}
	if s.TotalVolume > 100 {
		a.Factors.Low = append(a.Factors.Low, RiskHighVolume)
	}
	if protocols > 0 {
		a.Factors.Low = append(a.Factors.Low, RiskDeFiUsage)
	}

	if failed > 0 && total > 0 {
		a.Score += failed / total * 30
	}
	if s.DaysSinceLastTx > 30 {
		a.Score += 15
	}
	if s.TotalVolume < 1 {
		a.Score += 10
	}
	if protocols > 0 {
		a.Score -= 10
	}
	if s.UniqueContracts > 5 {
		a.Score -= 5
	}

	a.Score = math.Max(0, math.Min(100, a.Score))
	return a
}
