package risk

import (
	"math"
	"sort"

	"github.com/mbd888/spendguard/internal/txn"
)

// UserSummary tallies risk levels over every transaction of one user.
// Percentages are relative to this summary's own total.
type UserSummary struct {
	UserID               string  `json:"userId,omitempty"`
	TotalTransactions    int     `json:"totalTransactions"`
	HighRiskCount        int     `json:"highRiskCount"`
	MediumRiskCount      int     `json:"mediumRiskCount"`
	LowRiskCount         int     `json:"lowRiskCount"`
	HighRiskPercentage   float64 `json:"highRiskPercentage"`
	MediumRiskPercentage float64 `json:"mediumRiskPercentage"`
	LowRiskPercentage    float64 `json:"lowRiskPercentage"`
	OverallRiskLevel     Level   `json:"overallRiskLevel,omitempty"`
}

// GlobalSummary tallies risk levels across all users. Global percentages are
// direct ratios over all attributed transactions, not averages of the
// per-user percentages.
type GlobalSummary struct {
	TotalTransactions        int           `json:"totalTransactions"`
	HighRiskCount            int           `json:"highRiskCount"`
	MediumRiskCount          int           `json:"mediumRiskCount"`
	LowRiskCount             int           `json:"lowRiskCount"`
	HighRiskPercentage       float64       `json:"highRiskPercentage"`
	MediumRiskPercentage     float64       `json:"mediumRiskPercentage"`
	LowRiskPercentage        float64       `json:"lowRiskPercentage"`
	TotalUsers               int           `json:"totalUsers"`
	UnattributedTransactions int           `json:"unattributedTransactions"`
	Users                    []UserSummary `json:"users"`
}

// Overall level thresholds for a user in the global summary.
const (
	overallHighPercentage  = 50
	overallHighCount       = 3
	overallMediumHighPct   = 20
	overallMediumMediumPct = 30
)

// SummarizeUser re-evaluates each of the user's transactions against its own
// 24h window and tallies the resulting levels. Transactions owned by other
// users are ignored. An empty input returns all zeros.
func SummarizeUser(userID string, transactions []txn.Transaction) UserSummary {
	owned := make([]txn.Transaction, 0, len(transactions))
	for _, t := range transactions {
		if t.UserID == userID {
			owned = append(owned, t)
		}
	}

	c := tally(owned)
	s := UserSummary{
		UserID:            userID,
		TotalTransactions: c.total,
		HighRiskCount:     c.high,
		MediumRiskCount:   c.medium,
		LowRiskCount:      c.low,
	}
	s.HighRiskPercentage = percentage(s.HighRiskCount, s.TotalTransactions)
	s.MediumRiskPercentage = percentage(s.MediumRiskCount, s.TotalTransactions)
	s.LowRiskPercentage = percentage(s.LowRiskCount, s.TotalTransactions)
	return s
}

// SummarizeGlobal groups transactions by owning user, summarizes each group
// and derives every user's overall level. Transactions without an owner are
// left out of both the groups and the global denominator; they are reported
// in UnattributedTransactions.
func SummarizeGlobal(transactions []txn.Transaction) GlobalSummary {
	groups, unattributed := groupByUser(transactions)

	g := GlobalSummary{
		UnattributedTransactions: unattributed,
		Users:                    make([]UserSummary, 0, len(groups)),
	}
	for _, grp := range groups {
		us := SummarizeUser(grp.userID, grp.transactions)
		us.OverallRiskLevel = OverallLevel(us)

		g.TotalTransactions += us.TotalTransactions
		g.HighRiskCount += us.HighRiskCount
		g.MediumRiskCount += us.MediumRiskCount
		g.LowRiskCount += us.LowRiskCount
		g.Users = append(g.Users, us)
	}

	g.TotalUsers = len(g.Users)
	g.HighRiskPercentage = percentage(g.HighRiskCount, g.TotalTransactions)
	g.MediumRiskPercentage = percentage(g.MediumRiskCount, g.TotalTransactions)
	g.LowRiskPercentage = percentage(g.LowRiskCount, g.TotalTransactions)
	return g
}

// OverallLevel classifies a user from their summary: high when at least half
// of their transactions (or three of them) scored high, medium when a fifth
// scored high or 30% scored medium, low otherwise.
func OverallLevel(s UserSummary) Level {
	switch {
	case s.HighRiskPercentage >= overallHighPercentage || s.HighRiskCount >= overallHighCount:
		return LevelHigh
	case s.HighRiskPercentage >= overallMediumHighPct || s.MediumRiskPercentage >= overallMediumMediumPct:
		return LevelMedium
	default:
		return LevelLow
	}
}

type userGroup struct {
	userID       string
	transactions []txn.Transaction
}

// groupByUser builds the user -> transactions mapping for one aggregation
// call, ordered by user ID.
func groupByUser(transactions []txn.Transaction) ([]userGroup, int) {
	index := make(map[string]int)
	var groups []userGroup
	unattributed := 0

	for _, t := range transactions {
		if !t.HasOwner() {
			unattributed++
			continue
		}
		i, ok := index[t.UserID]
		if !ok {
			i = len(groups)
			index[t.UserID] = i
			groups = append(groups, userGroup{userID: t.UserID})
		}
		groups[i].transactions = append(groups[i].transactions, t)
	}

	sort.Slice(groups, func(a, b int) bool { return groups[a].userID < groups[b].userID })
	return groups, unattributed
}

type levelCounts struct {
	total, high, medium, low int
}

// tally evaluates every transaction against its window using a sliding
// scan over a timestamp-sorted copy. The window for entry i is every entry
// in [t_i-24h, t_i], which is exactly what SelectWindow would return.
func tally(transactions []txn.Transaction) levelCounts {
	sorted := make([]txn.Transaction, len(transactions))
	copy(sorted, transactions)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Timestamp.Before(sorted[b].Timestamp)
	})

	c := levelCounts{total: len(sorted)}
	lo, hi := 0, -1
	for i := range sorted {
		t := sorted[i].Timestamp
		from := t.Add(-WindowDuration)
		for sorted[lo].Timestamp.Before(from) {
			lo++
		}
		for hi+1 < len(sorted) && !sorted[hi+1].Timestamp.After(t) {
			hi++
		}

		switch Evaluate(sorted[i], sorted[lo:hi+1]).Level {
		case LevelHigh:
			c.high++
		case LevelMedium:
			c.medium++
		default:
			c.low++
		}
	}
	return c
}

// percentage returns count/total as a percentage rounded to one decimal.
func percentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count)/float64(total)*1000) / 10
}
