// Package scoring turns a wallet-activity snapshot into a credit score.
//
// The engine is a pure function: it reads a Snapshot, never mutates it, and
// returns a freshly built Result. Scores live in [300, 850] and map onto five
// risk tiers and a credit line between $1,000 and $50,000.
//
// Pipeline:
//  1. RawScore combines seven capped, weighted sub-scores and applies penalties
//  2. Classify / MaxCreditLimit / AvailableCredit derive the tier and limits
//  3. AnalyzeFactors explains the snapshot (independently of the score)
//  4. Recommend suggests improvements from the snapshot and score
package scoring

import "strings"

// RiskLevel is the five-level ordinal classification derived from a score.
type RiskLevel string

const (
	RiskExcellent RiskLevel = "excellent"
	RiskGood      RiskLevel = "good"
	RiskFair      RiskLevel = "fair"
	RiskPoor      RiskLevel = "poor"
	RiskVeryPoor  RiskLevel = "very_poor"
)

// Score bounds.
const (
	MinScore = 300
	MaxScore = 850
)

// LendingHistory summarizes a wallet's borrowing behavior.
type LendingHistory struct {
	Borrowed float64 `json:"borrowed"`
	Repaid   float64 `json:"repaid"`
	Defaults int     `json:"defaults"`
}

// Snapshot summarizes a wallet's historical on-chain behavior.
// It is assembled by a feature-extraction collaborator; the engine tolerates
// (but does not repair) values that violate its invariants.
type Snapshot struct {
	Address                string         `json:"address"`
	TotalTransactions      int            `json:"totalTransactions"`
	TotalVolume            float64        `json:"totalVolume"`
	AvgTransactionSize     float64        `json:"avgTransactionSize"`
	UniqueContracts        int            `json:"uniqueContracts"`
	FailedTransactions     int            `json:"failedTransactions"`
	SuccessfulTransactions int            `json:"successfulTransactions"`
	GasSpent               float64        `json:"gasSpent"`
	TokensHeld             int            `json:"tokensHeld"`
	NFTCount               int            `json:"nftCount"`
	DaysSinceFirstTx       int            `json:"daysSinceFirstTx"`
	DaysSinceLastTx        int            `json:"daysSinceLastTx"`
	DefiProtocols          []string       `json:"defiProtocols"`
	LendingHistory         LendingHistory `json:"lendingHistory"`
}

// ProtocolCount returns the number of distinct, non-empty DeFi protocol names.
func (s *Snapshot) ProtocolCount() int {
	if len(s.DefiProtocols) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(s.DefiProtocols))
	for _, p := range s.DefiProtocols {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		seen[p] = struct{}{}
	}
	return len(seen)
}

// Factors holds the human-readable explanations for a snapshot.
type Factors struct {
	Positive []string `json:"positive"`
	Negative []string `json:"negative"`
}

// Result is the outcome of scoring a snapshot.
type Result struct {
	Score           int       `json:"score"`
	RiskLevel       RiskLevel `json:"riskLevel"`
	AvailableCredit float64   `json:"availableCredit"`
	MaxCreditLimit  float64   `json:"maxCreditLimit"`
	Factors         Factors   `json:"factors"`
	Recommendations []string  `json:"recommendations"`
}
