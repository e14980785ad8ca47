package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaPublisher writes events to a topic asynchronously.
type KafkaPublisher struct {
	w       *kafka.Writer
	brokers []string
}

// NewKafkaPublisher returns an async publisher. Delivery errors surface in
// the writer's completion callback and are logged with lg.
func NewKafkaPublisher(cfg KafkaConfig, lg *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers")
	}
	if cfg.Topic == "" {
		return nil, errors.New("no kafka topic")
	}
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 50 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           batch,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				lg.Error("Kafka delivery failed",
					zap.String("topic", cfg.Topic),
					zap.Int("messages", len(messages)),
					zap.Error(err),
				)
			}
		},
	}
	return &KafkaPublisher{w: w, brokers: cfg.Brokers}, nil
}

// Publish enqueues one message.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Ping dials the first reachable broker.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return errors.Wrap(lastErr, "dial kafka")
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
