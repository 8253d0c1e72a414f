package services

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// natsConn is satisfied by *nats.Conn.
type natsConn interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher publishes events under a fixed subject prefix.
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := subject
	if p.prefix != "" {
		full = p.prefix + "." + subject
	}
	if err := p.conn.Publish(full, payload); err != nil {
		return fmt.Errorf("publishing %s: %w", full, err)
	}
	return nil
}
