package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/config"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/models"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/rabbitmq"
	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/track"
)

// Dispatcher starts the external analysis job for one notification and
// returns the generated execution ID.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *models.NotificationMessage) (string, error)
}

// Pipeline consumes transcript notifications off the queue and drives the
// dedup-then-dispatch sequence.
type Pipeline struct {
	cfg        *config.RabbitMQConfig
	conn       *rabbitmq.Connection
	dedup      *track.DedupSet
	dispatcher Dispatcher
	logger     *zap.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	started     bool
}

// NewPipeline creates a pipeline consumer with its dependencies.
func NewPipeline(cfg *config.RabbitMQConfig, conn *rabbitmq.Connection, dedup *track.DedupSet, dispatcher Dispatcher, logger *zap.Logger) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:         cfg,
		conn:        conn,
		dedup:       dedup,
		dispatcher:  dispatcher,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("transcript-pipeline-%d", time.Now().Unix()),
	}
}

// Start begins consuming from the notifications queue.
func (p *Pipeline) Start() error {
	if p.cfg.NotificationsQueue == "" {
		return fmt.Errorf("notifications queue is required")
	}

	if err := p.conn.SetQoS(p.cfg.PrefetchCount); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := p.startConsuming(); err != nil {
		return err
	}

	p.started = true
	p.logger.Info("Pipeline started and consuming messages",
		zap.String("queue", p.cfg.NotificationsQueue),
		zap.String("consumer_tag", p.consumerTag),
	)
	return nil
}

func (p *Pipeline) startConsuming() error {
	deliveries, err := p.conn.Consume(p.cfg.NotificationsQueue, p.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", p.cfg.NotificationsQueue, err)
	}

	go p.processMessages(deliveries)
	return nil
}

// Stop gracefully stops the pipeline consumer.
func (p *Pipeline) Stop() error {
	p.logger.Info("Stopping pipeline",
		zap.String("consumer_tag", p.consumerTag),
	)
	p.cancel()

	if ch := p.conn.GetChannel(); ch != nil {
		if err := ch.Cancel(p.consumerTag, false); err != nil {
			p.logger.Error("Failed to cancel consumer",
				zap.String("consumer_tag", p.consumerTag),
				zap.Error(err),
			)
		}
	}

	p.logger.Info("Pipeline stopped")
	return nil
}

func (p *Pipeline) processMessages(deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-p.ctx.Done():
			p.logger.Info("Pipeline context cancelled, stopping message processing")
			return
		case msg, ok := <-deliveries:
			if !ok {
				p.logger.Warn("Message channel closed, attempting to restart consumer...",
					zap.String("queue", p.cfg.NotificationsQueue),
				)
				// The connection manager reconnects on its own; keep
				// retrying to re-register the consumer until it sticks.
				for p.started {
					select {
					case <-p.ctx.Done():
						return
					default:
					}

					time.Sleep(2 * time.Second)
					if !p.conn.IsHealthy() {
						continue
					}
					if err := p.startConsuming(); err != nil {
						p.logger.Error("Failed to restart consuming after channel close, will retry",
							zap.String("queue", p.cfg.NotificationsQueue),
							zap.Error(err),
						)
						time.Sleep(5 * time.Second)
						continue
					}
					p.logger.Info("Successfully restarted consumer after channel close",
						zap.String("queue", p.cfg.NotificationsQueue),
					)
					return
				}
				return
			}
			ProcessMessage(p.logger, p.cfg.NotificationsQueue, msg, p)
		}
	}
}

// HandleEvent implements EventHandler. It parses one notification, claims
// the dedup mark before dispatch, and releases the mark if dispatch fails
// so queue redelivery can retry.
func (p *Pipeline) HandleEvent(decodedMessage string) error {
	var msg models.NotificationMessage
	if err := json.Unmarshal([]byte(decodedMessage), &msg); err != nil {
		return fmt.Errorf("failed to unmarshal notification message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	workKey := msg.WorkKey()

	// The mark is taken synchronously before dispatch so two concurrent
	// deliveries of the same logical event race here and only one proceeds.
	if !p.dedup.Mark(workKey) {
		p.logger.Info("Skipping duplicate notification",
			zap.String("work_key", workKey),
			zap.String("meeting_id", msg.MeetingID),
			zap.String("transcript_id", msg.TranscriptID),
		)
		// A duplicate is an expected outcome, not a failure; ack it.
		return nil
	}

	executionID, err := p.dispatcher.Dispatch(p.ctx, &msg)
	if err != nil {
		// Release the mark so the redelivered message is not wrongly
		// treated as a duplicate.
		p.dedup.Unmark(workKey)
		return fmt.Errorf("failed to dispatch notification %s: %w", workKey, err)
	}

	p.logger.Info("Notification dispatched",
		zap.String("work_key", workKey),
		zap.String("execution_id", executionID),
	)
	return nil
}
