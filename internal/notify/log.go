package notify

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// LogPublisher logs events instead of sending them. Used when no brokers
// are configured.
type LogPublisher struct{}

// Publish logs the event at info level.
func (LogPublisher) Publish(ctx context.Context, key string, value []byte) error {
	zctx.From(ctx).Info("Event", zap.String("key", key), zap.ByteString("event", value))
	return nil
}
