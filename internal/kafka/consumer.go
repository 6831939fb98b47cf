package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/engine"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/workers"
)

// Ingester is the part of the engine the consumer drives.
type Ingester interface {
	Ingest(ctx context.Context, r core.EmotionReading) (engine.Outcome, error)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads emotion readings from a topic and feeds them to the engine.
// Readings of one user are processed in order on the same worker.
type Consumer struct {
	reader   messageReader
	ingester Ingester
	pool     *workers.WorkerPool
	log      *zap.SugaredLogger
}

func NewConsumer(brokers []string, topic, groupID string, ingester Ingester, pool *workers.WorkerPool, log *zap.SugaredLogger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
	return newConsumer(reader, ingester, pool, log)
}

func newConsumer(r messageReader, ingester Ingester, pool *workers.WorkerPool, log *zap.SugaredLogger) *Consumer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Consumer{reader: r, ingester: ingester, pool: pool, log: log.Named("kafka.consumer")}
}

// Start blocks until ctx is done or the reader fails.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.reader.Close()

	c.log.Info("kafka consumer started")

	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read reading: %w", err)
		}

		reading, err := DecodeReading(m)
		if err != nil {
			c.log.Warnw("discarding reading", "offset", m.Offset, "partition", m.Partition, "error", err)
			continue
		}

		if err := c.pool.Dispatch(reading.UserID, func() { c.handle(ctx, reading) }); err != nil {
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, r core.EmotionReading) {
	out, err := c.ingester.Ingest(ctx, r)
	if err != nil {
		c.log.Errorw("ingest failed", "user", r.UserID, "emotion", r.Emotion, "intensity", r.Intensity, "error", err)
		return
	}
	if out.Warning != nil {
		c.log.Infow("warning opened from stream", "user", r.UserID, "warning", out.Warning.ID, "tier", out.Tier)
	}
}

type readingMessage struct {
	UserID    string    `json:"user_id"`
	Emotion   string    `json:"emotion"`
	Intensity *int      `json:"intensity"`
	Note      string    `json:"note"`
	Timestamp time.Time `json:"timestamp"`
}

// DecodeReading parses a reading message. The message key is the user id
// when the payload carries none; message time fills a missing timestamp.
func DecodeReading(m kafka.Message) (core.EmotionReading, error) {
	var msg readingMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return core.EmotionReading{}, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	if msg.Intensity == nil {
		return core.EmotionReading{}, fmt.Errorf("%w: intensity is required", core.ErrInvalidInput)
	}
	emotion, err := core.ParseEmotion(msg.Emotion)
	if err != nil {
		return core.EmotionReading{}, err
	}

	r := core.EmotionReading{
		UserID:    msg.UserID,
		Emotion:   emotion,
		Intensity: *msg.Intensity,
		Note:      msg.Note,
		Timestamp: msg.Timestamp,
	}
	if r.UserID == "" {
		r.UserID = string(m.Key)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = m.Time
	}
	if err := core.Validate(r); err != nil {
		return core.EmotionReading{}, err
	}
	return r, nil
}

// EncodeReading builds the message DecodeReading understands.
func EncodeReading(r core.EmotionReading) (kafka.Message, error) {
	if err := core.Validate(r); err != nil {
		return kafka.Message{}, err
	}
	intensity := r.Intensity
	value, err := json.Marshal(readingMessage{
		UserID:    r.UserID,
		Emotion:   string(r.Emotion),
		Intensity: &intensity,
		Note:      r.Note,
		Timestamp: r.Timestamp,
	})
	if err != nil {
		return kafka.Message{}, errors.Join(core.ErrInvalidInput, err)
	}
	return kafka.Message{Key: []byte(r.UserID), Value: value, Time: r.Timestamp}, nil
}
