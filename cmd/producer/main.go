// Command producer writes emotion readings to the readings topic, for local
// testing of the stream ingest path.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/config"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
	ekafka "github.com/kaphack/emotional-risk-escalation-engine/internal/kafka"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/logging"
)

func main() {
	user := flag.String("user", "demo-user", "user id of the reading")
	emotion := flag.String("emotion", "anger", "emotion label")
	intensity := flag.Int("intensity", 9, "intensity from 1 to 10")
	note := flag.String("note", "", "optional free-text context")
	flag.Parse()

	log, err := logging.New(logging.Options{Level: "info"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	e, err := core.ParseEmotion(*emotion)
	if err != nil {
		log.Fatalw("bad reading", "error", err)
	}
	msg, err := ekafka.EncodeReading(core.EmotionReading{
		UserID:    *user,
		Emotion:   e,
		Intensity: *intensity,
		Note:      *note,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Fatalw("bad reading", "error", err)
	}

	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    cfg.KafkaReadingsTopic,
		Balancer: &kafka.Hash{},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.WriteMessages(ctx, msg); err != nil {
		log.Fatalw("failed to write reading", "error", err)
	}
	if err := w.Close(); err != nil {
		log.Fatalw("failed to close writer", "error", err)
	}
	log.Infow("reading sent", "user", *user, "emotion", e, "intensity", *intensity, "topic", cfg.KafkaReadingsTopic)
}
