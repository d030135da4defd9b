package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics counts broker publishes by outcome.
type DeliveryMetrics struct {
	PublishTotal   *prometheus.CounterVec
	PublishLatency prometheus.Histogram
}

func NewDeliveryMetrics(registry *prometheus.Registry) *DeliveryMetrics {
	m := &DeliveryMetrics{
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nightcap_notify_publish_total",
				Help: "Total notification publish attempts.",
			},
			[]string{"purpose", "status"},
		),
		PublishLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nightcap_notify_publish_latency_seconds",
				Help:    "Notification publish latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(m.PublishTotal, m.PublishLatency)
	return m
}

// KafkaNotifier publishes delivery jobs to a topic consumed by the platform
// mailer. Keys are fresh UUIDs so partitioning spreads load rather than
// grouping by recipient.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
	metrics  *DeliveryMetrics
}

func NewKafkaNotifier(brokers []string, topic string, logger *slog.Logger, metrics *DeliveryMetrics) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// newKafkaNotifierFromProducer exists for tests using sarama mocks.
func newKafkaNotifierFromProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger, metrics *DeliveryMetrics) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		logger:   logger,
		metrics:  metrics,
	}
}

func (n *KafkaNotifier) Send(ctx context.Context, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}

	start := time.Now()
	_, _, err = n.producer.SendMessage(&sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(uuid.NewString()),
		Value: sarama.ByteEncoder(payload),
	})
	if n.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		n.metrics.PublishTotal.WithLabelValues(msg.Purpose, status).Inc()
		n.metrics.PublishLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		n.logger.Error("notification publish failed", "topic", n.topic, "error", err)
		return fmt.Errorf("notification publish failed: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	if n == nil || n.producer == nil {
		return nil
	}
	return n.producer.Close()
}
