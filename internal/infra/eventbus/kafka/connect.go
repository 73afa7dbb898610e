package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
)

// ClientConfig is the Sarama-level configuration shared by the producer and
// consumer group a Queue wraps.
type ClientConfig struct {
	Brokers  []string
	GroupID  string
	ClientID string
}

// NewClient builds a sarama.Client with the producer/consumer settings this
// codebase standardizes on: synchronous acked publish, round-robin consumer
// group rebalancing, manual offset commit (AutoCommit disabled since Queue
// marks offsets itself once a message is resolved).
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	config.Consumer.Offsets.AutoCommit.Enable = false

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V2_8_0_0

	return sarama.NewClient(cfg.Brokers, config)
}

// ConnectQueue establishes a producer and consumer group over client and
// wraps them in a Queue, retrying with exponential backoff for up to five
// minutes to absorb a Kafka cluster that isn't up yet at process start.
func ConnectQueue(cfg *Config, client sarama.Client, log *logger.Logger, metrics Metrics, tracer trace.Tracer) (*Queue, error) {
	var queue *Queue

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}
		consumerGroup, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
		if err != nil {
			_ = producer.Close()
			return fmt.Errorf("creating consumer group: %w", err)
		}
		queue = NewQueue(producer, consumerGroup, cfg, log, metrics, tracer)
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("connecting queue after retries: %w", err)
	}
	return queue, nil
}
