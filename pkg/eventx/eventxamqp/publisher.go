package eventxamqp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/eventx"
	"github.com/Abraxas-365/bastion/pkg/logx"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends events to a topic exchange, routed by event name.
type Publisher struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	p := &Publisher{url: url, exchange: exchange}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return errx.Wrap(err, "rabbitmq: dial failed", errx.TypeExternal)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errx.Wrap(err, "rabbitmq: channel open failed", errx.TypeExternal)
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return errx.Wrap(err, "rabbitmq: exchange declare failed", errx.TypeExternal)
	}
	p.conn, p.ch = conn, ch
	return nil
}

// Publish marshals e and sends it as a persistent message. A closed
// connection is re-dialled once.
func (p *Publisher) Publish(ctx context.Context, e eventx.Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return errx.Wrap(err, "rabbitmq: marshal event failed", errx.TypeInternal)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, e.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		Type:         e.Name,
		Body:         body,
	})
	if err != nil {
		logx.WithError(err).Warnf("rabbitmq: publish %s failed", e.Name)
		return errx.Wrap(err, "rabbitmq: publish failed", errx.TypeExternal)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
