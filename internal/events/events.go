// Package events publishes persisted state changes for downstream
// collaborators (feed builder, billing). Delivery is at-least-once.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Event types
const (
	TypeContentRecord = "content_record"
	TypeScoreAttempt  = "score_attempt"
)

// Event is the envelope written to the topic
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends events downstream
type Publisher interface {
	PublishRecord(ctx context.Context, rec model.ContentRecord) error
	PublishAttempt(ctx context.Context, attempt model.ScoreAttempt) error
	Close() error
}

// Nop drops every event
type Nop struct{}

func (Nop) PublishRecord(context.Context, model.ContentRecord) error { return nil }
func (Nop) PublishAttempt(context.Context, model.ScoreAttempt) error { return nil }
func (Nop) Close() error                                             { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic keyed by record id, so all
// events of a record land on the same partition in order
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *logrus.Entry
}

// NewKafkaPublisher creates a synchronous publisher that waits for all replicas
func NewKafkaPublisher(brokers []string, topic string, log *logrus.Entry) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaPublisher(writer, topic, log)
}

func newKafkaPublisher(w messageWriter, topic string, log *logrus.Entry) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, log: log}
}

func (p *KafkaPublisher) PublishRecord(ctx context.Context, rec model.ContentRecord) error {
	return p.publish(ctx, TypeContentRecord, rec.ID, recordPayload(rec))
}

func (p *KafkaPublisher) PublishAttempt(ctx context.Context, attempt model.ScoreAttempt) error {
	return p.publish(ctx, TypeScoreAttempt, attempt.RecordID, attempt)
}

func (p *KafkaPublisher) publish(ctx context.Context, eventType, key string, data any) error {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    "sentinel",
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
			{Key: "event-id", Value: []byte(event.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": eventType,
			"topic":      p.topic,
		}).Error("Failed to publish event")
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.log.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": eventType,
		"key":        key,
	}).Debug("Event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// RecordEvent is the downstream view of a record: state labels instead of
// internal fields
type RecordEvent struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	SourceType  string    `json:"source_type"`
	Title       string    `json:"title,omitempty"`
	URL         string    `json:"url,omitempty"`
	Dedup       string    `json:"dedup"`
	Score       string    `json:"score"`
	Served      bool      `json:"served"`
	Attribution []string  `json:"attribution"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func recordPayload(rec model.ContentRecord) RecordEvent {
	return RecordEvent{
		ID:          rec.ID,
		SourceID:    rec.SourceID,
		SourceType:  string(rec.SourceType),
		Title:       rec.Title,
		URL:         rec.URL,
		Dedup:       rec.DedupLabel(),
		Score:       rec.ScoreLabel(),
		Served:      rec.Served(),
		Attribution: rec.Attribution,
		UpdatedAt:   rec.UpdatedAt,
	}
}
