package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jwebster45206/dialogue-engine/internal/handlers"
	"github.com/jwebster45206/dialogue-engine/internal/services/events"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

// apiClient talks to cmd/api. Streaming requests use a client without a
// timeout so the event stream can stay open.
type apiClient struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
	}
}

func (c *apiClient) healthy() bool {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

func (c *apiClient) listSlots() ([]string, error) {
	var out handlers.ListSlotsResponse
	if err := c.do(http.MethodGet, "/v1/slots", nil, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return out.Slots, nil
}

func (c *apiClient) createSlot(slot string) (*state.SessionState, error) {
	var out state.SessionState
	if err := c.do(http.MethodPost, "/v1/slots", handlers.CreateSlotRequest{Slot: slot}, http.StatusCreated, &out); err != nil {
		return nil, fmt.Errorf("failed to create slot: %w", err)
	}
	return &out, nil
}

func (c *apiClient) getSlot(slot string) (*state.SessionState, error) {
	var out state.SessionState
	if err := c.do(http.MethodGet, "/v1/slots/"+url.PathEscape(slot), nil, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return &out, nil
}

// queueTurn submits an utterance and returns the request id to watch for.
func (c *apiClient) queueTurn(slot, utterance string) (string, error) {
	var out handlers.TurnAccepted
	path := "/v1/slots/" + url.PathEscape(slot) + "/turns"
	if err := c.do(http.MethodPost, path, handlers.TurnRequest{Utterance: utterance}, http.StatusAccepted, &out); err != nil {
		return "", fmt.Errorf("failed to queue turn: %w", err)
	}
	return out.RequestID, nil
}

func (c *apiClient) do(method, path string, in any, wantStatus int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		var errorResp handlers.ErrorResponse
		if err := json.Unmarshal(data, &errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(data))
		}
		return fmt.Errorf("%s", errorResp.Error)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// listen streams the slot's events into out until ctx is cancelled or the
// stream ends. The initial connected event is not forwarded.
func (c *apiClient) listen(ctx context.Context, slot string, out chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events/slots/"+url.PathEscape(slot), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("event stream failed with status %d: %s", resp.StatusCode, string(body))
	}

	return readSSE(ctx, resp.Body, out)
}

// readSSE parses "event:"/"data:" blocks and forwards slot events.
func readSSE(ctx context.Context, r io.Reader, out chan<- events.Event) error {
	scanner := bufio.NewScanner(r)
	var name, data string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// Empty line signals end of event
			if name != "" && name != "connected" && data != "" {
				var ev events.Event
				if err := json.Unmarshal([]byte(data), &ev); err == nil {
					select {
					case out <- ev:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			name, data = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error reading event stream: %w", err)
	}
	return ctx.Err()
}
