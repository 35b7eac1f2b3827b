package consumer

import (
	"encoding/base64"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventHandler is implemented by anything that processes decoded queue
// messages.
type EventHandler interface {
	HandleEvent(decodedMessage string) error
}

// ProcessMessage processes one delivery: base64-decode the body, hand it to
// the handler, then ack on success or nack-with-requeue on failure. A
// requeued delivery comes back until the queue's delivery limit moves it to
// the dead-letter queue, so returning an error from the handler is the
// retry mechanism.
func ProcessMessage(logger *zap.Logger, queue string, msg amqp.Delivery, handler EventHandler) {
	logger.Debug("Received message from queue",
		zap.String("queue", queue),
		zap.Uint64("delivery_tag", msg.DeliveryTag),
	)

	decoded, err := base64.StdEncoding.DecodeString(string(msg.Body))
	if err != nil {
		logger.Error("Failed to decode base64 message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		requeueMessage(logger, msg)
		return
	}

	if err := handler.HandleEvent(string(decoded)); err != nil {
		logger.Error("Failed to process message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		requeueMessage(logger, msg)
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		return
	}

	logger.Debug("Message from queue processed successfully",
		zap.String("queue", queue),
		zap.Uint64("delivery_tag", msg.DeliveryTag),
	)
}

// requeueMessage nacks with requeue=true; the broker counts deliveries and
// dead-letters once the queue's x-delivery-limit is exceeded.
func requeueMessage(logger *zap.Logger, msg amqp.Delivery) {
	if err := msg.Nack(false, true); err != nil {
		logger.Error("Failed to nack message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}
