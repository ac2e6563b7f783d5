package risk

import (
	"math"

	"github.com/mbd888/spendguard/internal/txn"
)

// rule inspects the subject against its window and returns the score it
// contributes plus the reason to report. A zero delta means the rule did not
// fire.
type rule func(subject *txn.Transaction, window []txn.Transaction) (float64, string)

// rules run in this order; reasons are reported in the same order.
var rules = []rule{
	amountRule,
	velocityRule,
	newMerchantRule,
}

// Engine is a stateless scorer. It exists so callers can hold the evaluation
// behind an interface.
type Engine struct{}

// NewEngine creates a risk engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate scores subject against window. See the package-level Evaluate.
func (e *Engine) Evaluate(subject txn.Transaction, window []txn.Transaction) Assessment {
	return Evaluate(subject, window)
}

// Evaluate scores subject against window, which must hold transactions of
// the same user already restricted to the lookback period (see SelectWindow).
// The subject may or may not be part of the window. Evaluate is pure: the
// same inputs always yield the same assessment.
func Evaluate(subject txn.Transaction, window []txn.Transaction) Assessment {
	score := 0.0
	reasons := make([]string, 0, len(rules))

	for _, r := range rules {
		delta, reason := r(&subject, window)
		if delta <= 0 {
			continue
		}
		score += delta
		reasons = append(reasons, reason)
	}

	if score > 1.0 {
		score = 1.0
	}
	score = math.Round(score*1000) / 1000 // 3 decimal places

	return Assessment{
		Score:   score,
		Level:   LevelFor(score),
		Reasons: reasons,
	}
}

// amountRule: tiers are mutually exclusive, the highest matching one wins.
func amountRule(subject *txn.Transaction, _ []txn.Transaction) (float64, string) {
	switch {
	case subject.Amount >= VeryHighAmount:
		return veryHighAmountWeight, ReasonVeryHighAmount
	case subject.Amount >= HighAmount:
		return highAmountWeight, ReasonHighAmount
	case subject.Amount >= ElevatedAmount:
		return elevatedAmountWeight, ReasonElevatedAmount
	}
	return 0, ""
}

// velocityRule counts window entries in [subject-1h, subject], both ends
// inclusive. The window is not re-derived here.
func velocityRule(subject *txn.Transaction, window []txn.Transaction) (float64, string) {
	count := countSince(window, subject, VelocityDuration)
	switch {
	case count >= UnusualVelocityCount:
		return unusualVelocityWeight, ReasonUnusualVelocity
	case count >= HighVelocityCount:
		return highVelocityWeight, ReasonHighVelocity
	}
	return 0, ""
}

// newMerchantRule fires when no other window entry shares the subject's
// merchant. An entry with the subject's own ID never counts.
func newMerchantRule(subject *txn.Transaction, window []txn.Transaction) (float64, string) {
	for i := range window {
		if window[i].Merchant == subject.Merchant && window[i].ID != subject.ID {
			return 0, ""
		}
	}
	return newMerchantWeight, ReasonNewMerchant
}
