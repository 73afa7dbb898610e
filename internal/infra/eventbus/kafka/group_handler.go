package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/ahrav/commit-quality-orchestrator/internal/infra/eventbus/kafka/tracing"
)

// groupHandler implements sarama.ConsumerGroupHandler, dispatching each
// delivered message to Queue's configured Handler and resolving it
// according to the HandlerResult returned (ack, requeue to retry topic, or
// leave unacked for redelivery) rather than always marking on receipt.
type groupHandler struct {
	queue   *Queue
	handler Handler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ctx, span := tracing.StartConsumerSpan(sess.Context(), msg, h.queue.tracer)

		var jobMsg JobMessage
		if err := json.Unmarshal(msg.Value, &jobMsg); err != nil {
			h.queue.logger.Error(ctx, "discarding unparseable job message", "topic", msg.Topic, "error", err)
			sess.MarkMessage(msg, "")
			span.End()
			continue
		}

		if !jobMsg.NotBefore.IsZero() {
			if wait := time.Until(jobMsg.NotBefore); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					span.End()
					return nil
				}
			}
		}

		result, err := h.handler(ctx, jobMsg)
		if err != nil {
			h.queue.logger.Error(ctx, "handler error", "job_id", jobMsg.JobID.String(), "error", err)
		}

		switch result {
		case Requeue:
			jobMsg.Priority = PriorityRetry
			jobMsg.Attempt++
			delay := ComputeRetryDelay(jobMsg.Attempt, h.queue.cfg.RetryBackoffBase, h.queue.cfg.RetryBackoffCap, h.queue.cfg.RetryJitterRatio)
			if pubErr := h.queue.PublishDelayed(ctx, jobMsg, delay); pubErr != nil {
				h.queue.logger.Error(ctx, "failed to requeue job message", "job_id", jobMsg.JobID.String(), "error", pubErr)
				// Leave unacked; redelivery will retry the requeue itself.
				span.End()
				continue
			}
			sess.MarkMessage(msg, "")
		case Nack:
			// Leave unacked so the broker redelivers on the next rebalance.
		default: // Ack
			sess.MarkMessage(msg, "")
		}

		if h.queue.metrics != nil {
			h.queue.metrics.RecordConsume(msg.Topic, err == nil)
		}
		span.End()
	}
	return nil
}

var _ fmt.Stringer = Priority("")

func (p Priority) String() string { return string(p) }
