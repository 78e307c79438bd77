package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/service"
)

const (
	maxHandleAttempts = 3
	retryDelay        = time.Second
)

// PaymentEventHandler applies verified payment provider events.
type PaymentEventHandler interface {
	HandleEvent(ctx context.Context, event *models.PaymentEvent) error
}

var _ PaymentEventHandler = (*service.PaymentService)(nil)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer feeds payment provider events relayed onto a Kafka topic
// into the payment callback handler.
type KafkaConsumer struct {
	reader     messageReader
	handler    PaymentEventHandler
	logger     *logging.LoggerV2
	retryDelay time.Duration
	stopCh     chan struct{}
}

// NewKafkaConsumer creates a new Kafka-based event consumer.
func NewKafkaConsumer(cfg config.KafkaConfig, handler PaymentEventHandler, logger *logging.LoggerV2) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.PaymentsTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})

	return newConsumer(reader, handler, logger)
}

func newConsumer(reader messageReader, handler PaymentEventHandler, logger *logging.LoggerV2) *KafkaConsumer {
	return &KafkaConsumer{
		reader:     reader,
		handler:    handler,
		logger:     logger,
		retryDelay: retryDelay,
		stopCh:     make(chan struct{}),
	}
}

// Start begins consuming events. Offsets are committed once a message has
// been handled or given up on.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Kafka consumer stopped")
			return nil
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				select {
				case <-c.stopCh:
					c.logger.Info("Kafka consumer stopped")
					return nil
				default:
				}
				c.logger.Error("Failed to read message", logging.Fields{"error": err.Error()})
				continue
			}

			c.handleMessage(ctx, msg)

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("Failed to commit message", logging.Fields{
					"offset": msg.Offset,
					"error":  err.Error(),
				})
			}
		}
	}
}

// Stop stops the consumer.
func (c *KafkaConsumer) Stop() {
	close(c.stopCh)
	c.reader.Close()
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, msg kafka.Message) {
	c.logger.Debug("Received message", logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var event models.PaymentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("Failed to unmarshal event", logging.Fields{
			"offset": msg.Offset,
			"error":  err.Error(),
			"alert":  true,
		})
		return
	}

	for attempt := 1; attempt <= maxHandleAttempts; attempt++ {
		err := c.handler.HandleEvent(ctx, &event)
		if err == nil {
			return
		}
		if errors.KindOf(err) == errors.KindMalformedCallback {
			// Already logged by the handler; redelivery cannot fix it.
			return
		}

		c.logger.Warn("Payment event handling failed", logging.Fields{
			"event_id": event.ID,
			"attempt":  attempt,
			"error":    err.Error(),
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay):
		}
	}

	c.logger.Error("Dropping payment event after repeated failures", logging.Fields{
		"event_id": event.ID,
		"offset":   msg.Offset,
	})
}
