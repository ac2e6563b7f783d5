package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mbd888/spendguard/internal/logging"
	"github.com/mbd888/spendguard/internal/retry"
)

const backendKafka = "kafka"

// ErrNoBrokers is returned by PingContext when no broker is configured.
var ErrNoBrokers = errors.New("no kafka brokers configured")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a topic keyed by user ID, so one user's
// events stay ordered within a partition.
type KafkaPublisher struct {
	writer  messageWriter
	brokers []string
	topic   string
	logger  *slog.Logger
}

// NewKafkaPublisher creates a publisher. Connections are opened lazily on
// the first write.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &KafkaPublisher{
		writer:  w,
		brokers: brokers,
		topic:   topic,
		logger:  logging.Component(logger, logging.ComponentEvents),
	}
}

// PublishScored writes one message.
func (p *KafkaPublisher) PublishScored(ctx context.Context, event ScoredEvent) (err error) {
	defer func() { observe(backendKafka, err) }()

	body, err := event.Marshal()
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal event: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID),
		Value: body,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	p.logger.Debug("published scored transaction",
		logging.FieldTxID, event.TransactionID,
		"topic", p.topic)
	return nil
}

// PingContext dials the first broker.
func (p *KafkaPublisher) PingContext(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return ErrNoBrokers
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	return conn.Close()
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
