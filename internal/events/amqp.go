package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/mbd888/spendguard/internal/logging"
	"github.com/mbd888/spendguard/internal/retry"
)

const backendAMQP = "amqp"

// ErrConnectionClosed is returned when the broker connection has gone away.
var ErrConnectionClosed = errors.New("amqp connection closed")

// AMQPPublisher publishes events to a durable direct exchange.
type AMQPPublisher struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger

	mu sync.Mutex // serializes channel writes
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange, routingKey string, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPPublisher{
		conn:       conn,
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logging.Component(logger, logging.ComponentEvents),
	}, nil
}

// PublishScored publishes one persistent message.
func (p *AMQPPublisher) PublishScored(ctx context.Context, event ScoredEvent) (err error) {
	defer func() { observe(backendAMQP, err) }()

	body, err := event.Marshal()
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal event: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.TransactionID,
			Type:         event.Type,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	p.logger.Debug("published scored transaction",
		logging.FieldTxID, event.TransactionID,
		"exchange", p.exchange)
	return nil
}

// PingContext reports whether the broker connection is still open.
func (p *AMQPPublisher) PingContext(context.Context) error {
	if p.conn.IsClosed() {
		return ErrConnectionClosed
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
