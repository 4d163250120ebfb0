package scoring

// Recommendation messages.
const (
	RecBuildHistory     = "Build transaction history with regular activity"
	RecImproveSuccess   = "Improve transaction success rate"
	RecIncreaseVolume   = "Increase transaction volume to improve credit score"
	RecStayActive       = "Maintain regular wallet activity"
	RecEngageDeFi       = "Engage with DeFi protocols to demonstrate financial literacy"
	RecAvoidDefaults    = "Avoid future lending defaults to improve credit score"
	recommendBelowScore = 600
	recommendMinVolume  = 5000.0
	recommendIdleDays   = 7
)

// Recommend returns suggested actions for s given its score.
// An empty list is valid: well-qualified wallets get none.
func Recommend(s Snapshot, score float64) []string {
	recs := []string{}

	if score < recommendBelowScore {
		recs = append(recs, RecBuildHistory, RecImproveSuccess)
	}
	if s.TotalVolume < recommendMinVolume {
		recs = append(recs, RecIncreaseVolume)
	}
	if s.DaysSinceLastTx > recommendIdleDays {
		recs = append(recs, RecStayActive)
	}
	if s.ProtocolCount() == 0 {
		recs = append(recs, RecEngageDeFi)
	}
	if s.LendingHistory.Defaults > 0 {
		recs = append(recs, RecAvoidDefaults)
	}

	return recs
}
