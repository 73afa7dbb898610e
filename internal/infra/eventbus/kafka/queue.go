// Package kafka implements the Queue component on top of Sarama: three
// priority topics consumed by one consumer group, manual offset marking so a
// message is only acknowledged after its handler reaches a terminal or
// controlled-requeue outcome, and a DLQ topic as an observability tap for
// jobs that exhaust their attempt budget.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/commit-quality-orchestrator/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// Priority selects which topic a JobMessage is published to, giving
// high-priority jobs their own partition set instead of queueing behind
// normal-priority backlog.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityRetry  Priority = "retry"
	PriorityHigh   Priority = "high"
)

// JobMessage is the envelope published for a ScanJob ready to be claimed by
// a dispatcher.
type JobMessage struct {
	JobID    uuid.UUID `json:"job_id"`
	Priority Priority  `json:"priority"`
	Attempt  int       `json:"attempt"`
	// NotBefore, when set, tells the consumer to hold the message until this
	// time instead of invoking the handler on delivery. Kafka has no native
	// per-message delay, so PublishDelayed stamps this and ConsumeClaim
	// sleeps until it elapses.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// Config names the brokers, consumer group, and per-priority topics.
type Config struct {
	Brokers     []string
	GroupID     string
	ClientID    string
	NormalTopic string
	RetryTopic  string
	HighTopic   string
	DLQTopic    string

	// RetryBackoffBase/Cap/JitterRatio parameterize ComputeRetryDelay for
	// messages the groupHandler requeues to the retry topic.
	RetryBackoffBase   time.Duration
	RetryBackoffCap    time.Duration
	RetryJitterRatio   float64
}

func (c *Config) topicFor(p Priority) string {
	switch p {
	case PriorityRetry:
		return c.RetryTopic
	case PriorityHigh:
		return c.HighTopic
	default:
		return c.NormalTopic
	}
}

// Metrics is the set of counters the Queue reports, implemented by whatever
// metrics backend the caller wires in (OTel meter, in the default wiring).
type Metrics interface {
	RecordPublish(topic string, success bool)
	RecordConsume(topic string, success bool)
}

// Queue publishes and consumes JobMessages across the three priority topics,
// plus a DLQ tap for jobs a dispatcher gives up on.
type Queue struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	cfg           *Config
	logger        *logger.Logger
	metrics       Metrics
	tracer        trace.Tracer
}

// NewQueue wraps an already-connected producer and consumer group.
func NewQueue(producer sarama.SyncProducer, consumerGroup sarama.ConsumerGroup, cfg *Config, log *logger.Logger, metrics Metrics, tracer trace.Tracer) *Queue {
	return &Queue{producer: producer, consumerGroup: consumerGroup, cfg: cfg, logger: log, metrics: metrics, tracer: tracer}
}

// Publish enqueues msg on the topic matching its priority.
func (q *Queue) Publish(ctx context.Context, msg JobMessage) error {
	topic := q.cfg.topicFor(msg.Priority)
	ctx, span := tracing.StartProducerSpan(ctx, topic, q.tracer)
	defer span.End()

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling job message: %w", err)
	}

	_, _, err = q.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(msg.JobID.String()),
		Value: sarama.ByteEncoder(payload),
	})
	if q.metrics != nil {
		q.metrics.RecordPublish(topic, err == nil)
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	q.logger.Debug(ctx, "published job message", "topic", topic, "job_id", msg.JobID.String())
	return nil
}

// PublishDelayed stamps msg with a NotBefore time.Now()+delay and publishes
// it. The publish itself returns immediately; the delay is honored by the
// consumer before it invokes the handler.
func (q *Queue) PublishDelayed(ctx context.Context, msg JobMessage, delay time.Duration) error {
	if delay > 0 {
		msg.NotBefore = time.Now().UTC().Add(delay)
	}
	return q.Publish(ctx, msg)
}

// PublishDLQ taps a job that exhausted its attempt budget onto the DLQ
// topic. The durable record of the failure lives in the FailedCommit table;
// this is purely an observability signal for external consumers (alerting,
// dashboards).
func (q *Queue) PublishDLQ(ctx context.Context, msg JobMessage) error {
	ctx, span := tracing.StartProducerSpan(ctx, q.cfg.DLQTopic, q.tracer)
	defer span.End()

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling dlq message: %w", err)
	}
	_, _, err = q.producer.SendMessage(&sarama.ProducerMessage{
		Topic: q.cfg.DLQTopic,
		Key:   sarama.StringEncoder(msg.JobID.String()),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("publishing to dlq: %w", err)
	}
	q.logger.Info(ctx, "published to dlq", "job_id", msg.JobID.String())
	return nil
}

// HandlerResult tells ConsumeClaim how to resolve a delivered message.
type HandlerResult int

const (
	// Ack marks the message consumed; it will not be redelivered.
	Ack HandlerResult = iota
	// Requeue republishes the message to the retry topic and acks the
	// original delivery, giving the queue a bounded-delay redelivery since
	// Kafka itself has no per-message visibility timeout.
	Requeue
	// Nack leaves the message unacked; the consumer group will redeliver it
	// on the next rebalance or restart. Used only for transient handler
	// errors where even a retry-topic requeue isn't safe yet (e.g. the
	// handler couldn't reach storage to record progress).
	Nack
)

// Handler processes one JobMessage and reports how the delivery should be
// resolved.
type Handler func(ctx context.Context, msg JobMessage) (HandlerResult, error)

// Consume joins the consumer group across all three priority topics and
// invokes handler for every delivered message until ctx is canceled.
func (q *Queue) Consume(ctx context.Context, handler Handler) error {
	topics := []string{q.cfg.NormalTopic, q.cfg.RetryTopic, q.cfg.HighTopic}
	h := &groupHandler{queue: q, handler: handler}
	for {
		if err := q.consumerGroup.Consume(ctx, topics, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("consumer group session: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close releases the producer and consumer group.
func (q *Queue) Close() error {
	var errs []error
	if err := q.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing producer: %w", err))
	}
	if err := q.consumerGroup.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing consumer group: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
