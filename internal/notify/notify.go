// Package notify delivers controller events to external subscribers. The
// built-in implementation pushes JSON-encoded events over HTTP POST to a
// fixed list of webhook URLs taken from configuration; future
// implementations could use message buses or other transports without
// changing the dispatcher.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/edgefleet/ddil/internal/logger"
	"github.com/edgefleet/ddil/internal/model"
)

// WebhookForwarder posts every controller event to each configured URL.
type WebhookForwarder struct {
	webhookURLs []string
	httpClient  *http.Client
}

// NewWebhookForwarder creates a forwarder for the given URLs. A nil or empty
// list yields a forwarder that does nothing.
func NewWebhookForwarder(webhookURLs []string) *WebhookForwarder {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &WebhookForwarder{
		webhookURLs: webhookURLs,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   5 * time.Second,
		},
	}
}

// Forward delivers one event to every configured webhook. Delivery is
// best-effort: the first failure is returned, but remaining webhooks are
// still attempted.
func (forwarder *WebhookForwarder) Forward(ctx context.Context, event model.Event) error {
	if len(forwarder.webhookURLs) == 0 {
		return nil
	}

	jsonBytes, marshalError := json.Marshal(event)
	if marshalError != nil {
		return fmt.Errorf("failed to marshal event payload: %w", marshalError)
	}

	var firstError error
	for _, webhookURL := range forwarder.webhookURLs {
		if postError := forwarder.post(ctx, webhookURL, jsonBytes); postError != nil {
			logger.EventLog.Warnf("webhook delivery failed url=%s type=%s: %v",
				webhookURL, event.Type, postError)
			if firstError == nil {
				firstError = postError
			}
		}
	}
	return firstError
}

// post sends one JSON payload to one webhook URL.
func (forwarder *WebhookForwarder) post(ctx context.Context, webhookURL string, body []byte) error {
	httpRequest, requestError := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		webhookURL,
		bytes.NewReader(body),
	)
	if requestError != nil {
		return fmt.Errorf("failed to build webhook request: %w", requestError)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, doError := forwarder.httpClient.Do(httpRequest)
	if doError != nil {
		return doError
	}
	defer func() {
		_, _ = io.Copy(io.Discard, httpResponse.Body)
		_ = httpResponse.Body.Close()
	}()

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", httpResponse.StatusCode)
	}
	return nil
}
