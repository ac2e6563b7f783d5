package risk

import (
	"time"

	"github.com/mbd888/spendguard/internal/txn"
)

// SelectWindow returns the transactions from history that belong to the
// subject's user and fall in [subject-24h, subject], both ends inclusive.
// history may be in any order. The result is a fresh slice; an empty
// history yields an empty window.
func SelectWindow(subject txn.Transaction, history []txn.Transaction) []txn.Transaction {
	from := subject.Timestamp.Add(-WindowDuration)
	window := make([]txn.Transaction, 0, len(history))
	for _, t := range history {
		if t.UserID != subject.UserID {
			continue
		}
		if within(t.Timestamp, from, subject.Timestamp) {
			window = append(window, t)
		}
	}
	return window
}

// countSince counts window entries in [subject-d, subject].
func countSince(window []txn.Transaction, subject *txn.Transaction, d time.Duration) int {
	from := subject.Timestamp.Add(-d)
	n := 0
	for i := range window {
		if within(window[i].Timestamp, from, subject.Timestamp) {
			n++
		}
	}
	return n
}

func within(ts, from, to time.Time) bool {
	return !ts.Before(from) && !ts.After(to)
}
