package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"warden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap/zaptest"
)

type receivedEvent struct {
	contentType string
	body        []byte
}

type webhookRecorder struct {
	mu     sync.Mutex
	events []receivedEvent
	status int
}

func (r *webhookRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.events = append(r.events, receivedEvent{contentType: req.Header.Get("Content-Type"), body: body})
		status := r.status
		r.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
		}
	}
}

func (r *webhookRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *webhookRecorder) event(i int) receivedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[i]
}

func sampleDetection() *core.Detection {
	e := core.NewEvent()
	e.SourceID = "10.0.0.1"
	e.Category = core.CategoryLogin
	return core.NewDetection(e, core.CategoryLogin, 0.92)
}

func TestWebhookSinkDeliversJSON(t *testing.T) {
	recorder := &webhookRecorder{}
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	sink, err := NewWebhookSink(WebhookSinkConfig{URL: server.URL, Encoding: EncodingJSON}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	d := sampleDetection()
	sink.EmitDetection(d)
	sink.Close()

	require.Equal(t, 1, recorder.count())
	got := recorder.event(0)
	assert.Equal(t, "application/json", got.contentType)

	var env struct {
		Type      string          `json:"type"`
		Detection *core.Detection `json:"detection"`
	}
	require.NoError(t, json.Unmarshal(got.body, &env))
	assert.Equal(t, "detection", env.Type)
	require.NotNil(t, env.Detection)
	assert.Equal(t, d.ID, env.Detection.ID)
	assert.Equal(t, core.SeverityCritical, env.Detection.Severity)
}

func TestWebhookSinkDeliversMsgpack(t *testing.T) {
	recorder := &webhookRecorder{}
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	sink, err := NewWebhookSink(WebhookSinkConfig{URL: server.URL, Encoding: EncodingMsgpack}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	d := sampleDetection()
	action := core.Action{Kind: core.ActionBlock, Target: "10.0.0.1", AppliedAt: time.Now().UTC()}
	sink.EmitAction(d, action)
	sink.Close()

	require.Equal(t, 1, recorder.count())
	got := recorder.event(0)
	assert.Equal(t, "application/msgpack", got.contentType)

	var env struct {
		Type      string          `msgpack:"type"`
		Detection *core.Detection `msgpack:"detection"`
		Action    *core.Action    `msgpack:"action"`
	}
	require.NoError(t, msgpack.Unmarshal(got.body, &env))
	assert.Equal(t, "action", env.Type)
	require.NotNil(t, env.Action)
	assert.Equal(t, core.ActionBlock, env.Action.Kind)
	assert.Equal(t, "10.0.0.1", env.Action.Target)
}

func TestWebhookSinkCloseDrainsBuffer(t *testing.T) {
	recorder := &webhookRecorder{}
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	sink, err := NewWebhookSink(WebhookSinkConfig{URL: server.URL, BufferSize: 16}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		sink.EmitDetection(sampleDetection())
	}
	sink.Close()
	assert.Equal(t, 5, recorder.count(), "Close waits for buffered events to deliver")
}

func TestWebhookSinkEmitAfterCloseIsNoop(t *testing.T) {
	recorder := &webhookRecorder{}
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	sink, err := NewWebhookSink(WebhookSinkConfig{URL: server.URL}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	sink.Close()

	sink.EmitDetection(sampleDetection())
	sink.Close()
	assert.Equal(t, 0, recorder.count())
}

func TestWebhookSinkBreakerOpensOnRejections(t *testing.T) {
	recorder := &webhookRecorder{status: http.StatusInternalServerError}
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	sink, err := NewWebhookSink(WebhookSinkConfig{
		URL: server.URL,
		Breaker: core.CircuitBreakerConfig{
			MaxFailures:         2,
			Timeout:             time.Minute,
			MaxHalfOpenRequests: 1,
		},
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		sink.EmitDetection(sampleDetection())
	}
	sink.Close()

	assert.Equal(t, 2, recorder.count(), "the breaker stops deliveries after consecutive failures")
}

func TestWebhookSinkRequiresURL(t *testing.T) {
	_, err := NewWebhookSink(WebhookSinkConfig{}, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}
