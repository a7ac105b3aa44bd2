package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/punchamoorthee/accountledger/internal/domain"
	"github.com/rabbitmq/amqp091-go"
)

// channel is the part of *amqp091.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitPublisher publishes JSON events to a durable topic exchange.
type RabbitPublisher struct {
	conn        *amqp091.Connection
	openChannel func() (channel, error)
	exchange    string

	mu       sync.Mutex
	ch       channel
	declared bool
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func NewRabbitPublisher(amqpURL, exchange string) (*RabbitPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &RabbitPublisher{
		conn:     conn,
		exchange: exchange,
		ch:       ch,
		openChannel: func() (channel, error) {
			ch, err := conn.Channel()
			if err != nil {
				return nil, err
			}
			return ch, nil
		},
	}, nil
}

func (p *RabbitPublisher) PublishTransaction(ctx context.Context, txn *domain.Transaction) error {
	return p.publish(ctx, TransactionRoutingKey(txn), newTransactionEvent(txn))
}

func (p *RabbitPublisher) PublishAccount(ctx context.Context, routingKey string, account *domain.Account) error {
	return p.publish(ctx, routingKey, newAccountEvent(account, time.Now()))
}

func (p *RabbitPublisher) publish(ctx context.Context, routingKey string, body any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.send(ctx, routingKey, msg)
	if err == nil || p.openChannel == nil {
		return err
	}

	// one retry on a fresh channel
	slog.Warn("publish failed, reopening channel", "exchange", p.exchange, "routing_key", routingKey, "error", err)
	ch, chErr := p.openChannel()
	if chErr != nil {
		return chErr
	}
	if closeErr := p.ch.Close(); closeErr != nil && !errors.Is(closeErr, amqp091.ErrClosed) {
		slog.Debug("closing failed channel", "error", closeErr)
	}
	p.ch = ch
	p.declared = false
	return p.send(ctx, routingKey, msg)
}

func (p *RabbitPublisher) send(ctx context.Context, routingKey string, msg amqp091.Publishing) error {
	if !p.declared {
		if err := p.ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
		}
		p.declared = true
	}
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NoopPublisher is used when RabbitMQ is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishTransaction(_ context.Context, txn *domain.Transaction) error {
	slog.Debug("event publish skipped", "routing_key", TransactionRoutingKey(txn), "transaction_id", txn.TransactionID)
	return nil
}

func (NoopPublisher) PublishAccount(_ context.Context, routingKey string, account *domain.Account) error {
	slog.Debug("event publish skipped", "routing_key", routingKey, "account_number", account.AccountNumber)
	return nil
}

func (NoopPublisher) Close() {}
