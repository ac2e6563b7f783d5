// Package events publishes scored transactions to a message broker so
// downstream consumers (case management, notifications) can react to risk
// without polling the API.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/spendguard/internal/circuitbreaker"
	"github.com/mbd888/spendguard/internal/config"
	"github.com/mbd888/spendguard/internal/metrics"
	"github.com/mbd888/spendguard/internal/retry"
	"github.com/mbd888/spendguard/internal/risk"
	"github.com/mbd888/spendguard/internal/txn"
)

// TypeTransactionScored is the type field of every scored-transaction event.
const TypeTransactionScored = "transaction.scored"

const (
	// publishTimeout bounds a single broker write.
	publishTimeout = 5 * time.Second

	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// ScoredEvent is the wire body of a scored transaction.
type ScoredEvent struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId"`
	Amount        float64   `json:"amount"`
	Merchant      string    `json:"merchant"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
	RiskScore     float64   `json:"riskScore"`
	RiskLevel     string    `json:"riskLevel"`
	Reasons       []string  `json:"reasons"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// NewScoredEvent builds the event for a recorded transaction.
func NewScoredEvent(t txn.Transaction, a risk.Assessment, now time.Time) ScoredEvent {
	reasons := a.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return ScoredEvent{
		Type:          TypeTransactionScored,
		TransactionID: t.ID,
		UserID:        t.UserID,
		Amount:        t.Amount,
		Merchant:      t.Merchant,
		Currency:      t.Currency,
		Timestamp:     t.Timestamp,
		RiskScore:     a.Score,
		RiskLevel:     string(a.Level),
		Reasons:       reasons,
		OccurredAt:    now.UTC(),
	}
}

// Marshal encodes the event as JSON.
func (e ScoredEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers scored-transaction events.
type Publisher interface {
	PublishScored(ctx context.Context, event ScoredEvent) error
	PingContext(ctx context.Context) error
	Close() error
}

// New builds the publisher selected by cfg.EventsBackend. Broker-backed
// publishers are wrapped in a Guarded publisher.
func New(cfg *config.Config, logger *slog.Logger) (Publisher, error) {
	breaker := circuitbreaker.New(breakerThreshold, breakerCooldown)

	switch cfg.EventsBackend {
	case config.EventsNone, "":
		return Nop{}, nil
	case config.EventsAMQP:
		p, err := NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, logger)
		if err != nil {
			return nil, err
		}
		return NewGuarded(p, backendAMQP, retry.DefaultPolicy, breaker, logger), nil
	case config.EventsKafka:
		p := NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		// kafka.Writer retries internally
		return NewGuarded(p, backendKafka, retry.Policy{MaxAttempts: 1}, breaker, logger), nil
	case config.EventsWebhook:
		p := NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, logger)
		return NewGuarded(p, backendWebhook, retry.DefaultPolicy, breaker, logger), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.EventsBackend)
	}
}

func observe(backend string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	metrics.EventsPublishedTotal.WithLabelValues(backend, result).Inc()
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishScored(context.Context, ScoredEvent) error { return nil }
func (Nop) PingContext(context.Context) error                { return nil }
func (Nop) Close() error                                     { return nil }
