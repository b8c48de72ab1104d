package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"warden/core"
	"warden/metrics"
	"warden/util/goroutine"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Encoding selects the webhook body format.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// webhookEnvelope is the wire format for one emitted security event.
type webhookEnvelope struct {
	Type      string          `json:"type" msgpack:"type"`
	Detection *core.Detection `json:"detection" msgpack:"detection"`
	Action    *core.Action    `json:"action,omitempty" msgpack:"action,omitempty"`
	EmittedAt time.Time       `json:"emitted_at" msgpack:"emitted_at"`
}

// WebhookSinkConfig configures a webhook sink.
type WebhookSinkConfig struct {
	URL        string
	Encoding   Encoding
	BufferSize int
	Timeout    time.Duration
	Breaker    core.CircuitBreakerConfig
}

// WebhookSink delivers security events to an HTTP endpoint from a background
// worker. Emits never block: when the buffer is full the event is dropped with
// a warning. A circuit breaker stops deliveries to a dead endpoint.
type WebhookSink struct {
	cfg     WebhookSinkConfig
	client  *http.Client
	breaker *core.CircuitBreaker
	events  chan webhookEnvelope
	logger  *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewWebhookSink creates and starts a webhook sink.
func NewWebhookSink(cfg WebhookSinkConfig, logger *zap.SugaredLogger) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook sink requires a URL")
	}
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingJSON
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Breaker == (core.CircuitBreakerConfig{}) {
		cfg.Breaker = core.DefaultCircuitBreakerConfig()
	}
	breaker, err := core.NewCircuitBreaker(cfg.Breaker)
	if err != nil {
		return nil, fmt.Errorf("webhook sink circuit breaker: %w", err)
	}

	s := &WebhookSink{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		events:  make(chan webhookEnvelope, cfg.BufferSize),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// EmitDetection implements Sink.
func (s *WebhookSink) EmitDetection(d *core.Detection) {
	s.enqueue(webhookEnvelope{
		Type:      "detection",
		Detection: d.Clone(),
		EmittedAt: time.Now().UTC(),
	})
}

// EmitAction implements Sink.
func (s *WebhookSink) EmitAction(d *core.Detection, a core.Action) {
	action := a
	s.enqueue(webhookEnvelope{
		Type:      "action",
		Detection: d.Clone(),
		Action:    &action,
		EmittedAt: time.Now().UTC(),
	})
}

func (s *WebhookSink) enqueue(env webhookEnvelope) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- env:
	default:
		metrics.SinkDeliveryFailures.Inc()
		s.logger.Warnw("Sink buffer full, dropping event", "type", env.Type)
	}
}

// Close stops the worker after draining buffered events.
func (s *WebhookSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.events)
	<-s.done
}

func (s *WebhookSink) run() {
	defer close(s.done)
	defer goroutine.Recover("webhook-sink", s.logger)

	for env := range s.events {
		s.deliver(env)
	}
}

func (s *WebhookSink) deliver(env webhookEnvelope) {
	if err := s.breaker.Allow(); err != nil {
		metrics.SinkDeliveryFailures.Inc()
		s.logger.Debugw("Sink delivery skipped, circuit open", "type", env.Type)
		return
	}

	body, contentType, err := s.encode(env)
	if err != nil {
		metrics.SinkDeliveryFailures.Inc()
		s.logger.Errorw("Failed to encode sink event", "type", env.Type, "error", err)
		return
	}

	resp, err := s.client.Post(s.cfg.URL, contentType, bytes.NewReader(body))
	if err != nil {
		s.breaker.RecordFailure()
		metrics.SinkDeliveryFailures.Inc()
		s.logger.Warnw("Sink delivery failed", "url", s.cfg.URL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.breaker.RecordFailure()
		metrics.SinkDeliveryFailures.Inc()
		s.logger.Warnw("Sink endpoint rejected event", "url", s.cfg.URL, "status", resp.StatusCode)
		return
	}
	s.breaker.RecordSuccess()
}

func (s *WebhookSink) encode(env webhookEnvelope) ([]byte, string, error) {
	switch s.cfg.Encoding {
	case EncodingMsgpack:
		body, err := msgpack.Marshal(env)
		return body, "application/msgpack", err
	default:
		body, err := json.Marshal(env)
		return body, "application/json", err
	}
}
