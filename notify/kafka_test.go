package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestKafkaNotifierPublishes(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var msg Message
		if err := json.Unmarshal(value, &msg); err != nil {
			return err
		}
		if msg.Target != "gin-fizz@example.com" || msg.Code != "042137" {
			return errors.New("payload does not match enqueued message")
		}
		return nil
	})

	registry := prometheus.NewRegistry()
	metrics := NewDeliveryMetrics(registry)
	n := newKafkaNotifierFromProducer(producer, "nightcap.notifications", nil, metrics)

	err := n.Send(context.Background(), Message{
		Target:  "gin-fizz@example.com",
		Code:    "042137",
		Purpose: "signup",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := testutil.ToFloat64(metrics.PublishTotal.WithLabelValues("signup", "success"))
	if got != 1 {
		t.Fatalf("publish success counter = %v, want 1", got)
	}

	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKafkaNotifierPublishError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	registry := prometheus.NewRegistry()
	metrics := NewDeliveryMetrics(registry)
	n := newKafkaNotifierFromProducer(producer, "nightcap.notifications", nil, metrics)

	err := n.Send(context.Background(), Message{Target: "x@example.com", Purpose: "reset-password"})
	if err == nil {
		t.Fatal("expected publish error")
	}

	got := testutil.ToFloat64(metrics.PublishTotal.WithLabelValues("reset-password", "error"))
	if got != 1 {
		t.Fatalf("publish error counter = %v, want 1", got)
	}

	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKafkaNotifierCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	n := newKafkaNotifierFromProducer(producer, "nightcap.notifications", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.Send(ctx, Message{Target: "x@example.com"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Send on cancelled context = %v, want context.Canceled", err)
	}

	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewKafkaNotifierValidation(t *testing.T) {
	if _, err := NewKafkaNotifier(nil, "topic", nil, nil); err == nil {
		t.Fatal("expected error for empty broker list")
	}
	if _, err := NewKafkaNotifier([]string{"localhost:9092"}, "", nil, nil); err == nil {
		t.Fatal("expected error for empty topic")
	}
}
