package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quizdesk/quizstore/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// appID marks every message this service publishes.
const appID = "quizstore"

// RabbitMQPublisher sends quiz and migration events to RabbitMQ queues
// through the default exchange. Each queue is declared on first use.
type RabbitMQPublisher struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	durable    bool
	autoDelete bool

	mu       sync.Mutex
	declared map[string]bool
}

// NewRabbitMQPublisher dials the broker at cfg.URL and opens one channel.
func NewRabbitMQPublisher(cfg config.RabbitMQConfig) (*RabbitMQPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	return &RabbitMQPublisher{
		conn:       conn,
		ch:         ch,
		durable:    cfg.QueueDurable,
		autoDelete: cfg.QueueAutoDelete,
		declared:   make(map[string]bool),
	}, nil
}

// Publish delivers data to the queue named by channel and returns the
// generated message id. Messages on durable queues are persistent.
func (p *RabbitMQPublisher) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	queue := strings.TrimSpace(channel)
	if queue == "" {
		return "", errors.New("rabbitmq queue name is required")
	}
	if err := p.ensureQueue(queue); err != nil {
		return "", err
	}

	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		AppId:       appID,
		Timestamp:   time.Now().UTC(),
		Headers:     headers(attrs),
		Body:        data,
	}
	if p.durable {
		msg.DeliveryMode = amqp.Persistent
	}
	if err := p.ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return "", fmt.Errorf("rabbitmq publish %s: %w", queue, err)
	}
	return msg.MessageId, nil
}

// Close shuts the channel, then the connection.
func (p *RabbitMQPublisher) Close() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

func (p *RabbitMQPublisher) ensureQueue(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared[name] {
		return nil
	}
	if _, err := p.ch.QueueDeclare(name, p.durable, p.autoDelete, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq declare %s: %w", name, err)
	}
	p.declared[name] = true
	return nil
}

// headers copies message attributes into an AMQP header table.
func headers(attrs map[string]string) amqp.Table {
	table := make(amqp.Table, len(attrs))
	for k, v := range attrs {
		table[k] = v
	}
	return table
}
