package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher delivers engine events to a Kafka topic, keyed by warning id.
type Publisher struct {
	writer     messageWriter
	log        *zap.SugaredLogger
	maxRetries int
	backoff    time.Duration
}

func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // same warning always goes to the same partition
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newPublisher(writer, log)
}

func newPublisher(w messageWriter, log *zap.SugaredLogger) *Publisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Publisher{
		writer:     w,
		log:        log.Named("kafka.publisher"),
		maxRetries: 3,
		backoff:    100 * time.Millisecond,
	}
}

// Notify writes ev, retrying transient failures. Errors are logged, never returned.
func (p *Publisher) Notify(ctx context.Context, ev core.Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		p.log.Errorw("failed to encode event", "type", ev.Type, "warning", ev.WarningID, "error", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(ev.WarningID),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}

	var writeErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		writeErr = p.writer.WriteMessages(ctx, msg)
		if writeErr == nil {
			return
		}
		if ctx.Err() != nil || attempt == p.maxRetries {
			break
		}
		backoff := time.Duration(attempt+1) * p.backoff
		p.log.Warnw("kafka write failed", "attempt", attempt+1, "type", ev.Type, "warning", ev.WarningID, "error", writeErr, "backoff", backoff.String())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
	}
	p.log.Errorw("kafka write gave up", "type", ev.Type, "warning", ev.WarningID, "error", writeErr)
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
