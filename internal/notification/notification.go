package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	// KindAccountCreated is emitted once an account and its wallets exist.
	KindAccountCreated = "account_created"
	// KindDepositCredited is emitted when a deposit reaches a funding balance.
	KindDepositCredited = "deposit_credited"
	// KindTransferCompleted is emitted after an internal transfer commits.
	KindTransferCompleted = "transfer_completed"

	// Channel is the Redis pub/sub channel notifications are published on.
	Channel = "notifications"
)

// Message describes an outbound notification payload.
type Message struct {
	Kind        string `json:"kind"`
	AccountID   string `json:"account_id"`
	Destination string `json:"destination,omitempty"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

// Notifier delivers notifications to downstream systems. Implementations
// must not be called while a ledger transaction is open.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("account_id", message.AccountID),
		slog.String("destination", message.Destination),
		slog.String("subject", message.Subject),
	)
	return nil
}

// RedisNotifier publishes notifications for the mailer to pick up.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier builds a notifier publishing on Channel.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, channel: Channel}
}

// Send publishes the JSON-encoded message.
func (n *RedisNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
