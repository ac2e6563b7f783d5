// Package risk implements rule-based fraud scoring for recorded transactions.
//
// Every transaction is evaluated against a window of the same user's recent
// history using three additive rules: amount tier, velocity and merchant
// novelty. Scores range from 0.0 (safe) to 1.0 (high risk) and map onto a
// low/medium/high level. The aggregation helpers replay the same evaluation
// over full histories to summarize a user or the whole fleet.
package risk

import "time"

// Level is the discretized output of a risk score.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Score thresholds for risk levels, checked high first.
const (
	HighThreshold   = 0.7
	MediumThreshold = 0.3
)

// Amount tiers. Thresholds are compared against the raw amount with no
// currency conversion.
const (
	VeryHighAmount = 100000
	HighAmount     = 50000
	ElevatedAmount = 10000

	veryHighAmountWeight = 0.7
	highAmountWeight     = 0.5
	elevatedAmountWeight = 0.3
)

// Velocity tiers count transactions in the trailing VelocityDuration.
const (
	UnusualVelocityCount = 10
	HighVelocityCount    = 5

	unusualVelocityWeight = 0.5
	highVelocityWeight    = 0.3
)

const newMerchantWeight = 0.2

const (
	// WindowDuration is the lookback used to select a transaction's window.
	WindowDuration = 24 * time.Hour
	// VelocityDuration is the trailing period the velocity rule counts over.
	VelocityDuration = time.Hour
)

// Reasons reported when a rule fires.
const (
	ReasonVeryHighAmount  = "Very high transaction amount"
	ReasonHighAmount      = "High transaction amount"
	ReasonElevatedAmount  = "Above-average transaction amount"
	ReasonUnusualVelocity = "Unusual number of transactions in the last hour"
	ReasonHighVelocity    = "High number of transactions in the last hour"
	ReasonNewMerchant     = "New merchant for this user"
)

// Assessment is the result of evaluating a single transaction. It is derived
// on demand and never persisted.
type Assessment struct {
	Score   float64  `json:"riskScore"`
	Level   Level    `json:"riskLevel"`
	Reasons []string `json:"reasons"`
}

// LevelFor maps a score onto a risk level.
func LevelFor(score float64) Level {
	switch {
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}
