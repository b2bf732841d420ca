package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes events keyed by account so that a consumer sees one
// account's history in order.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
}

func NewKafkaSink(writer messageWriter, timeout time.Duration) *KafkaSink {
	return &KafkaSink{writer: writer, timeout: timeout}
}

func (s *KafkaSink) Name() string { return "kafka" }

type kafkaEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	AccountID  *uuid.UUID        `json:"account_id,omitempty"`
	TxnID      string            `json:"txn_id,omitempty"`
	DeviceID   string            `json:"device_id,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func (s *KafkaSink) Write(ctx context.Context, ev domain.AuditEvent) error {
	payload := kafkaEvent{
		ID:         ev.ID,
		Type:       string(ev.Type),
		TxnID:      ev.TxnID,
		DeviceID:   ev.DeviceID,
		Actor:      ev.Actor,
		Details:    ev.Details,
		OccurredAt: ev.OccurredAt,
	}
	key := ev.ID
	if ev.AccountID != uuid.Nil {
		id := ev.AccountID
		payload.AccountID = &id
		key = id.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("KafkaSink.Write: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("KafkaSink.Write: %w", err)
	}
	return nil
}
