package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/efreitasn/miniswap/internal/domain"
)

// Sink delivers one outward notification. Implementations must not
// block the caller; slow transports hand off to a goroutine.
type Sink interface {
	Deliver(ev domain.Event)
}

// Notifier fans events out to all configured sinks. It implements
// engine.EventSink.
type Notifier struct {
	sinks []Sink
}

// NewNotifier creates a Notifier over the given sinks.
func NewNotifier(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks}
}

// Publish delivers the event to every sink.
func (n *Notifier) Publish(ev domain.Event) {
	for _, s := range n.sinks {
		s.Deliver(ev)
	}
}

// WebhookSink POSTs event JSON to a single configured URL.
// Fire-and-forget: delivery failures are logged at debug and dropped.
type WebhookSink struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewWebhookSink creates a webhook sink with the given delivery timeout.
func NewWebhookSink(url string, timeout time.Duration, log *zap.Logger) *WebhookSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Deliver sends the event asynchronously.
func (s *WebhookSink) Deliver(ev domain.Event) {
	go s.deliver(ev)
}

func (s *WebhookSink) deliver(ev domain.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Event-Type", string(ev.Type))

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug("webhook delivery failed",
			zap.String("event", string(ev.Type)),
			zap.Uint64("trade_id", ev.TradeID),
			zap.Error(err),
		)
		return
	}
	resp.Body.Close()
}

// KafkaSink publishes event JSON to a kafka topic, keyed by trade id so
// one trade's notifications stay ordered within a partition.
type KafkaSink struct {
	writer  *kafka.Writer
	timeout time.Duration
	log     *zap.Logger
}

// NewKafkaSink creates a kafka sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string, log *zap.Logger) *KafkaSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		timeout: 10 * time.Second,
		log:     log,
	}
}

// Deliver publishes the event asynchronously.
func (s *KafkaSink) Deliver(ev domain.Event) {
	go s.deliver(ev)
}

func (s *KafkaSink) deliver(ev domain.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(ev.TradeID, 10)),
		Value: body,
	})
	if err != nil {
		s.log.Debug("kafka publish failed",
			zap.String("event", string(ev.Type)),
			zap.Uint64("trade_id", ev.TradeID),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the kafka writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
