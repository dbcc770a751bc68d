// Package classifier holds intent classifier providers that talk to
// services outside the process.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jwebster45206/dialogue-engine/pkg/intent"
)

// maxResponseBytes caps how much of a provider reply is read.
const maxResponseBytes = 64 << 10

// HTTPClassifier posts each utterance to an external classification service.
type HTTPClassifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// Ensure HTTPClassifier implements intent.Classifier
var _ intent.Classifier = (*HTTPClassifier)(nil)

type classifyRequest struct {
	Utterance    string          `json:"utterance"`
	Relationship int             `json:"relationship"`
	Flags        map[string]bool `json:"flags"`
	Turn         int             `json:"turn"`
}

type classifyResponse struct {
	Action          string `json:"action"`
	Topic           string `json:"topic"`
	IsProbingSecret bool   `json:"is_probing_secret"`
}

// NewHTTPClassifier creates a classifier for the service at url. The
// per-request deadline comes from the caller's context; timeout is an
// outer bound on the HTTP client.
func NewHTTPClassifier(url string, timeout time.Duration, logger *slog.Logger) *HTTPClassifier {
	if timeout <= 0 {
		timeout = intent.DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClassifier{
		url: strings.TrimRight(url, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Classify sends the utterance and a state snapshot to the service.
// Transport failures and non-2xx replies are errors. A 2xx reply that is
// not valid JSON yields an empty classification, which validation degrades
// to the none action.
func (c *HTTPClassifier) Classify(ctx context.Context, utterance string, snap intent.Snapshot) (intent.Classification, error) {
	body, err := json.Marshal(classifyRequest{
		Utterance:    utterance,
		Relationship: snap.Relationship,
		Flags:        snap.Flags,
		Turn:         snap.Turn,
	})
	if err != nil {
		return intent.Classification{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return intent.Classification{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return intent.Classification{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return intent.Classification{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Classifier returned error",
			"slot", snap.Slot,
			"status_code", resp.StatusCode,
			"response_body", string(data))
		return intent.Classification{}, fmt.Errorf("classifier request failed with status: %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.Unmarshal(data, &out); err != nil {
		c.logger.Warn("Malformed classifier response",
			"slot", snap.Slot,
			"error", err,
			"response_body", string(data))
		return intent.Classification{}, nil
	}

	return intent.Classification{
		Action:          out.Action,
		Topic:           out.Topic,
		IsProbingSecret: out.IsProbingSecret,
	}, nil
}
