// Package ledger records user transactions and scores each one against the
// user's recent history as it arrives.
//
// Flow:
//  1. A transaction is normalized, validated and persisted
//  2. The owner's last 24h of history is loaded and windowed
//  3. The risk engine scores it
//  4. The scored transaction is pushed to the live feed and handed to a
//     background delivery for publishing
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/spendguard/internal/events"
	"github.com/mbd888/spendguard/internal/idgen"
	"github.com/mbd888/spendguard/internal/logging"
	"github.com/mbd888/spendguard/internal/metrics"
	"github.com/mbd888/spendguard/internal/pagination"
	"github.com/mbd888/spendguard/internal/risk"
	"github.com/mbd888/spendguard/internal/syncutil"
	"github.com/mbd888/spendguard/internal/traces"
	"github.com/mbd888/spendguard/internal/txn"
	"github.com/mbd888/spendguard/internal/validation"
)

// maxInflightEvents bounds concurrent background deliveries. Events beyond
// it are dropped.
const maxInflightEvents = 256

// ErrUnknownOwner is returned when a transaction is recorded for a user
// that no longer exists.
var ErrUnknownOwner = errors.New("ledger: owner does not exist")

// Owners reports whether a user exists.
type Owners interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// Scorer evaluates a transaction against its history window.
type Scorer interface {
	Evaluate(subject txn.Transaction, window []txn.Transaction) risk.Assessment
}

// Publisher delivers scored transactions to downstream consumers.
type Publisher interface {
	PublishScored(ctx context.Context, event events.ScoredEvent) error
}

// Broadcaster pushes scored transactions to connected live feed clients.
type Broadcaster interface {
	BroadcastScored(t txn.Transaction, a risk.Assessment)
}

// CreateRequest is the body of a new transaction.
type CreateRequest struct {
	Amount    *float64   `json:"amount" binding:"required"`
	Merchant  string     `json:"merchant" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
	Category  *string    `json:"category"`
	Location  *string    `json:"location"`
	Currency  string     `json:"currency"`
}

// Recorded is a persisted transaction with its ingestion-time assessment.
type Recorded struct {
	Transaction *txn.Transaction `json:"transaction"`
	risk.Assessment
}

// Page is one page of a user's history.
type Page struct {
	Items      []*txn.Transaction `json:"items"`
	NextCursor string             `json:"nextCursor,omitempty"`
	HasMore    bool               `json:"hasMore"`
}

// Ledger records and reports on transactions
type Ledger struct {
	store       Store
	scorer      Scorer
	publisher   Publisher
	broadcaster Broadcaster
	owners      Owners
	userLocks   *syncutil.KeyedMutex
	inflight    chan struct{}
	pending     sync.WaitGroup
	currency    string
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a ledger that scores with scorer.
func New(store Store, scorer Scorer, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:     store,
		scorer:    scorer,
		userLocks: syncutil.NewKeyedMutex(),
		inflight:  make(chan struct{}, maxInflightEvents),
		currency:  txn.DefaultCurrency,
		now:       time.Now,
		logger:    logging.Component(logger, logging.ComponentLedger),
	}
}

// WithPublisher sets the event publisher.
func (l *Ledger) WithPublisher(p Publisher) *Ledger {
	l.publisher = p
	return l
}

// WithOwners makes Record reject users that no longer exist.
func (l *Ledger) WithOwners(o Owners) *Ledger {
	l.owners = o
	return l
}

// WithBroadcaster sets the live feed.
func (l *Ledger) WithBroadcaster(b Broadcaster) *Ledger {
	l.broadcaster = b
	return l
}

// WithDefaultCurrency overrides the currency applied when a request omits one.
func (l *Ledger) WithDefaultCurrency(code string) *Ledger {
	if code != "" {
		l.currency = code
	}
	return l
}

// WithClock overrides the clock used for defaulted timestamps.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Record persists a transaction for userID and scores it against the
// user's trailing 24 hours, the new transaction included. Records for the
// same user are serialized so every window holds exactly the transactions
// stored before it.
func (l *Ledger) Record(ctx context.Context, userID string, req CreateRequest) (*Recorded, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.Record", traces.UserID(userID))
	defer span.End()

	if userID == "" {
		return nil, traces.Fail(span, fmt.Errorf("%w: owner is required", txn.ErrInvalidTransaction))
	}

	// Postgres keeps microseconds; scoring must see what replay will see.
	now := l.now().UTC().Truncate(time.Microsecond)
	t := &txn.Transaction{
		ID:        idgen.Transaction(),
		UserID:    userID,
		Merchant:  validation.SanitizeString(req.Merchant, validation.MaxMerchantLength),
		Timestamp: now,
		Category:  sanitizeLabel(req.Category),
		Location:  sanitizeLabel(req.Location),
		Currency:  req.Currency,
		CreatedAt: now,
	}
	if req.Amount != nil {
		t.Amount = *req.Amount
	}
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		t.Timestamp = req.Timestamp.UTC().Truncate(time.Microsecond)
	}
	if t.Currency == "" {
		t.Currency = l.currency
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return nil, traces.Fail(span, err)
	}

	assessment, window, err := l.persistAndScore(ctx, t)
	if err != nil {
		return nil, traces.Fail(span, err)
	}
	metrics.ObserveAssessment(string(assessment.Level), assessment.Score)
	span.SetAttributes(
		traces.TransactionID(t.ID),
		traces.Amount(t.Amount),
		traces.RiskScore(assessment.Score),
		traces.RiskLevel(string(assessment.Level)),
	)

	l.logger.Info("transaction recorded",
		logging.FieldTxID, t.ID,
		logging.FieldUserID, userID,
		logging.FieldRiskLevel, assessment.Level,
		"risk_score", assessment.Score,
		"window", window)

	if l.broadcaster != nil {
		l.broadcaster.BroadcastScored(*t, assessment)
	}
	if l.publisher != nil {
		l.dispatch(ctx, events.NewScoredEvent(*t, assessment, l.now()))
	}

	return &Recorded{Transaction: t, Assessment: assessment}, nil
}

func (l *Ledger) persistAndScore(ctx context.Context, t *txn.Transaction) (risk.Assessment, int, error) {
	unlock, err := l.userLocks.Lock(ctx, t.UserID)
	if err != nil {
		return risk.Assessment{}, 0, err
	}
	defer unlock()

	if l.owners != nil {
		ok, err := l.owners.Exists(ctx, t.UserID)
		if err != nil {
			return risk.Assessment{}, 0, fmt.Errorf("check owner: %w", err)
		}
		if !ok {
			return risk.Assessment{}, 0, ErrUnknownOwner
		}
	}

	if err := l.store.Create(ctx, t); err != nil {
		return risk.Assessment{}, 0, fmt.Errorf("persist transaction: %w", err)
	}
	metrics.TransactionsRecordedTotal.Inc()

	recent, err := l.store.ListByUserSince(ctx, t.UserID, t.Timestamp.Add(-risk.WindowDuration))
	if err != nil {
		return risk.Assessment{}, 0, fmt.Errorf("load recent history: %w", err)
	}

	window := risk.SelectWindow(*t, values(recent))
	return l.scorer.Evaluate(*t, window), len(window), nil
}

// sanitizeLabel strips what Postgres text columns reject from an optional
// free-text field.
func sanitizeLabel(s *string) *string {
	if s == nil {
		return nil
	}
	v := validation.SanitizeString(*s, validation.MaxLabelLength)
	return &v
}

// dispatch publishes event in the background. The delivery outlives the
// request that produced it and never delays the caller.
func (l *Ledger) dispatch(ctx context.Context, event events.ScoredEvent) {
	select {
	case l.inflight <- struct{}{}:
	default:
		metrics.EventsDroppedTotal.Inc()
		l.logger.Warn("event dispatch saturated, dropping", logging.FieldTxID, event.TransactionID)
		return
	}

	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		defer func() { <-l.inflight }()

		if err := l.publisher.PublishScored(context.WithoutCancel(ctx), event); err != nil {
			l.logger.Warn("publish scored transaction failed",
				logging.FieldTxID, event.TransactionID, logging.FieldError, err)
		}
	}()
}

// Drain waits for background deliveries to finish or ctx to end.
func (l *Ledger) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns one transaction.
func (l *Ledger) Get(ctx context.Context, id string) (*txn.Transaction, error) {
	return l.store.Get(ctx, id)
}

// History returns a page of the user's transactions, newest first.
func (l *Ledger) History(ctx context.Context, userID string, opts ListOptions) (*Page, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.History", traces.UserID(userID))
	defer span.End()

	limit := opts.Limit
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	if limit > pagination.MaxLimit {
		limit = pagination.MaxLimit
	}

	items, err := l.store.ListByUser(ctx, userID, ListOptions{Limit: limit + 1, Cursor: opts.Cursor})
	if err != nil {
		return nil, traces.Fail(span, fmt.Errorf("list history: %w", err))
	}

	items, next, more := pagination.ComputePage(items, limit, func(t *txn.Transaction) (time.Time, string) {
		return t.Timestamp, t.ID
	})
	if items == nil {
		items = []*txn.Transaction{}
	}
	return &Page{Items: items, NextCursor: next, HasMore: more}, nil
}

// UserStats replays the risk engine over the user's full history.
func (l *Ledger) UserStats(ctx context.Context, userID string) (risk.UserSummary, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.UserStats", traces.UserID(userID))
	defer span.End()
	defer observeSummary("user", time.Now())

	all, err := l.store.ListAll(ctx, userID)
	if err != nil {
		return risk.UserSummary{}, traces.Fail(span, fmt.Errorf("load user history: %w", err))
	}
	return risk.SummarizeUser(userID, values(all)), nil
}

// GlobalStats replays the risk engine over every user's history.
func (l *Ledger) GlobalStats(ctx context.Context) (risk.GlobalSummary, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.GlobalStats")
	defer span.End()
	defer observeSummary("global", time.Now())

	all, err := l.store.ListAll(ctx, "")
	if err != nil {
		return risk.GlobalSummary{}, traces.Fail(span, fmt.Errorf("load history: %w", err))
	}
	return risk.SummarizeGlobal(values(all)), nil
}

// ListAll returns every transaction, or one user's when userID is set,
// newest first.
func (l *Ledger) ListAll(ctx context.Context, userID string) ([]*txn.Transaction, error) {
	all, err := l.store.ListAll(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]*txn.Transaction, len(all))
	for i, t := range all {
		out[len(all)-1-i] = t
	}
	return out, nil
}

// PurgeUser removes every transaction userID owns and then runs remove,
// holding the user's lock across both so no Record lands in between.
// It returns the number of transactions removed.
func (l *Ledger) PurgeUser(ctx context.Context, userID string, remove func(ctx context.Context) error) (int, error) {
	unlock, err := l.userLocks.Lock(ctx, userID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	n, err := l.store.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	return n, remove(ctx)
}

func observeSummary(scope string, start time.Time) {
	metrics.SummaryDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
}

func values(ts []*txn.Transaction) []txn.Transaction {
	out := make([]txn.Transaction, len(ts))
	for i, t := range ts {
		out[i] = *t
	}
	return out
}
