package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaphack/emotional-risk-escalation-engine/internal/core"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/engine"
	"github.com/kaphack/emotional-risk-escalation-engine/internal/workers"
)

var msgTime = time.Date(2026, 5, 2, 18, 0, 0, 0, time.UTC)

func TestDecodeReading(t *testing.T) {
	r, err := DecodeReading(kafka.Message{
		Value: []byte(`{"user_id":"u1","emotion":"Anger","intensity":9,"note":"argument at work","timestamp":"2026-05-02T17:59:00Z"}`),
		Time:  msgTime,
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", r.UserID)
	assert.Equal(t, core.Anger, r.Emotion)
	assert.Equal(t, 9, r.Intensity)
	assert.Equal(t, "argument at work", r.Note)
	assert.Equal(t, msgTime.Add(-time.Minute), r.Timestamp)
}

func TestDecodeReadingFallbacks(t *testing.T) {
	r, err := DecodeReading(kafka.Message{
		Key:   []byte("u7"),
		Value: []byte(`{"emotion":"fear","intensity":4}`),
		Time:  msgTime,
	})
	require.NoError(t, err)
	assert.Equal(t, "u7", r.UserID)
	assert.Equal(t, msgTime, r.Timestamp)
}

func TestDecodeReadingRejects(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"user_id":`,
		"missing intensity": `{"user_id":"u1","emotion":"joy"}`,
		"unknown emotion":   `{"user_id":"u1","emotion":"ennui","intensity":3}`,
		"out of range":      `{"user_id":"u1","emotion":"joy","intensity":11}`,
		"zero intensity":    `{"user_id":"u1","emotion":"joy","intensity":0}`,
		"no user":           `{"emotion":"joy","intensity":3}`,
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeReading(kafka.Message{Value: []byte(value), Time: msgTime})
			assert.ErrorIs(t, err, core.ErrInvalidInput)
		})
	}
}

func TestEncodeReading(t *testing.T) {
	in := core.EmotionReading{UserID: "u1", Emotion: core.Sadness, Intensity: 8, Timestamp: msgTime, Note: "bad week"}
	m, err := EncodeReading(in)
	require.NoError(t, err)
	assert.Equal(t, []byte("u1"), m.Key)

	out, err := DecodeReading(m)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = EncodeReading(core.EmotionReading{UserID: "u1", Emotion: core.Joy, Intensity: 12})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

type fakeReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		m := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type brokenReader struct{}

func (brokenReader) ReadMessage(context.Context) (kafka.Message, error) {
	return kafka.Message{}, errors.New("broker unreachable")
}

func (brokenReader) Close() error { return nil }

type fakeIngester struct {
	mu       sync.Mutex
	readings []core.EmotionReading
}

func (f *fakeIngester) Ingest(_ context.Context, r core.EmotionReading) (engine.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, r)
	tier, err := core.ClassifyReading(r)
	return engine.Outcome{Tier: tier}, err
}

func (f *fakeIngester) byUser(user string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, r := range f.readings {
		if r.UserID == user {
			out = append(out, r.Intensity)
		}
	}
	return out
}

func (f *fakeIngester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readings)
}

func TestConsumerKeepsPerUserOrder(t *testing.T) {
	reader := &fakeReader{}
	for i := 1; i <= 5; i++ {
		for _, user := range []string{"a", "b"} {
			m, err := EncodeReading(core.EmotionReading{UserID: user, Emotion: core.Anxiety, Intensity: i, Timestamp: msgTime})
			require.NoError(t, err)
			reader.messages = append(reader.messages, m)
		}
	}
	reader.messages = append(reader.messages, kafka.Message{Value: []byte("garbage")})

	ingester := &fakeIngester{}
	pool := workers.NewWorkerPool(4, 16, nil)
	c := newConsumer(reader, ingester, pool, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return ingester.count() == 10 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	pool.Stop()

	assert.Equal(t, []int{1, 2, 3, 4, 5}, ingester.byUser("a"))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, ingester.byUser("b"))
	assert.True(t, reader.closed)
}

func TestConsumerReturnsReaderError(t *testing.T) {
	pool := workers.NewWorkerPool(1, 1, nil)
	defer pool.Stop()

	c := newConsumer(brokenReader{}, &fakeIngester{}, pool, nil)
	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
}

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	written  []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failures > 0 {
		w.failures--
		return errors.New("leader not available")
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func testEvent() core.Event {
	return core.Event{
		Type:      core.EventEmergencyRequested,
		WarningID: "w1",
		UserID:    "u1",
		Tier:      core.TierLow,
		Channel:   core.ChannelEmergency,
		At:        msgTime,
	}
}

func TestPublisherWritesEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, nil)

	p.Notify(context.Background(), testEvent())

	require.Len(t, w.written, 1)
	m := w.written[0]
	assert.Equal(t, []byte("w1"), m.Key)
	require.Len(t, m.Headers, 1)
	assert.Equal(t, "event-type", m.Headers[0].Key)
	assert.Equal(t, "emergency_requested", string(m.Headers[0].Value))

	var got core.Event
	require.NoError(t, json.Unmarshal(m.Value, &got))
	assert.Equal(t, testEvent(), got)
}

func TestPublisherRetries(t *testing.T) {
	w := &fakeWriter{failures: 2}
	p := newPublisher(w, nil)
	p.backoff = time.Millisecond

	p.Notify(context.Background(), testEvent())
	assert.Equal(t, 3, w.calls)
	assert.Len(t, w.written, 1)
}

func TestPublisherGivesUp(t *testing.T) {
	w := &fakeWriter{failures: 100}
	p := newPublisher(w, nil)
	p.backoff = time.Millisecond

	p.Notify(context.Background(), testEvent())
	assert.Equal(t, p.maxRetries+1, w.calls)
	assert.Empty(t, w.written)
}

func TestPublisherDoesNotWaitAfterLastAttempt(t *testing.T) {
	w := &fakeWriter{failures: 100}
	p := newPublisher(w, nil)
	p.maxRetries = 1
	p.backoff = 50 * time.Millisecond

	start := time.Now()
	p.Notify(context.Background(), testEvent())
	elapsed := time.Since(start)

	assert.Equal(t, 2, w.calls)
	// One backoff between the two attempts, none after the second.
	assert.Less(t, elapsed, 140*time.Millisecond)
}
