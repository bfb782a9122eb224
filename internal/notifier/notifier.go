package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"session-service/internal/client"
	"session-service/internal/util"
)

const (
	KindVerificationCode = "verification_code"
	KindPasswordChanged  = "password_changed"
	KindRevokeAllNotice  = "revoke_all_notice"
)

// Mailer hands a message to the delivery pipeline. Send returns only after
// the handoff is confirmed; flows that require confirmed delivery (the
// registration code) abort when it errors.
type Mailer interface {
	Send(ctx context.Context, recipient, kind, body string) error
}

type emailMessage struct {
	Recipient string    `json:"recipient"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body"`
	QueuedAt  time.Time `json:"queued_at"`
}

// KafkaMailer publishes email jobs to the mail topic. The producer writes
// synchronously with broker acks, so a nil return means the message is in
// the log and the downstream sender will see it.
type KafkaMailer struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaMailer(producer *client.KafkaProducer, topic string) *KafkaMailer {
	return &KafkaMailer{
		producer: producer,
		topic:    topic,
	}
}

func (m *KafkaMailer) Send(ctx context.Context, recipient, kind, body string) error {
	payload, err := json.Marshal(emailMessage{
		Recipient: recipient,
		Kind:      kind,
		Body:      body,
		QueuedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode email message: %w", err)
	}

	headers := map[string]string{"kind": kind}
	if err := m.producer.ProduceMessage(ctx, m.topic, []byte(recipient), payload, headers); err != nil {
		util.Error("Failed to queue email",
			zap.String("kind", kind),
			zap.Error(err))
		return fmt.Errorf("failed to queue email: %w", err)
	}

	util.Debug("Email queued", zap.String("kind", kind))
	return nil
}

// NoopMailer logs instead of sending. Used in development when no broker
// is running.
type NoopMailer struct{}

func (NoopMailer) Send(ctx context.Context, recipient, kind, body string) error {
	util.Info("Email delivery skipped",
		zap.String("kind", kind))
	return nil
}
