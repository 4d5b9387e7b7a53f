package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/ddil/internal/logger"
	"github.com/edgefleet/ddil/internal/model"
)

func TestMain(m *testing.M) {
	_ = logger.InitLog("error", false)
	os.Exit(m.Run())
}

func TestForwardDeliversJSONEvent(t *testing.T) {
	var received atomic.Pointer[model.Event]
	webhookServer := httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, request *http.Request) {
			assert.Equal(t, http.MethodPost, request.Method)
			assert.Equal(t, "application/json", request.Header.Get("Content-Type"))

			var event model.Event
			require.NoError(t, json.NewDecoder(request.Body).Decode(&event))
			received.Store(&event)
			responseWriter.WriteHeader(http.StatusNoContent)
		}))
	defer webhookServer.Close()

	forwarder := NewWebhookForwarder([]string{webhookServer.URL})
	err := forwarder.Forward(context.Background(), model.Event{
		Type:      model.EventPathChange,
		Timestamp: time.Now().UTC(),
		OldMode:   model.PathModeWired,
		NewMode:   model.PathModeSatellite,
	})
	require.NoError(t, err)

	event := received.Load()
	require.NotNil(t, event)
	assert.Equal(t, model.EventPathChange, event.Type)
	assert.Equal(t, model.PathModeSatellite, event.NewMode)
}

func TestForwardReportsServerError(t *testing.T) {
	webhookServer := httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, request *http.Request) {
			responseWriter.WriteHeader(http.StatusInternalServerError)
		}))
	defer webhookServer.Close()

	forwarder := NewWebhookForwarder([]string{webhookServer.URL})
	err := forwarder.Forward(context.Background(), model.Event{Type: model.EventDDILEnter})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestForwardContinuesAfterFailedWebhook(t *testing.T) {
	var delivered atomic.Int64
	webhookServer := httptest.NewServer(http.HandlerFunc(
		func(responseWriter http.ResponseWriter, request *http.Request) {
			delivered.Add(1)
			responseWriter.WriteHeader(http.StatusOK)
		}))
	defer webhookServer.Close()

	// The first URL is unreachable; the second must still be attempted.
	forwarder := NewWebhookForwarder([]string{
		"http://127.0.0.1:1/unreachable",
		webhookServer.URL,
	})

	err := forwarder.Forward(context.Background(), model.Event{Type: model.EventHandover})
	assert.Error(t, err)
	assert.Equal(t, int64(1), delivered.Load())
}

func TestForwardNoURLsIsNoop(t *testing.T) {
	forwarder := NewWebhookForwarder(nil)
	assert.NoError(t, forwarder.Forward(context.Background(), model.Event{Type: model.EventDDILExit}))
}
