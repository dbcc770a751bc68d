package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jwebster45206/dialogue-engine/pkg/intent"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

const (
	// PollInterval is how often to check the slot for a new checkpoint
	PollInterval = 250 * time.Millisecond
	// CommitTimeout is max time to wait for a worker to commit a turn
	CommitTimeout = 30 * time.Second
)

// turnAccepted mirrors the 202 body of the turns endpoint.
type turnAccepted struct {
	RequestID string `json:"request_id"`
	Slot      string `json:"slot"`
	Status    string `json:"status"`
}

func slotURL(baseURL, slot string) string {
	return fmt.Sprintf("%s/v1/slots/%s", baseURL, url.PathEscape(slot))
}

// CreateSlot opens a new save slot and returns its initial state.
func CreateSlot(ctx context.Context, client *http.Client, baseURL, slot string) (*state.SessionState, error) {
	body, err := json.Marshal(map[string]string{"slot": slot})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/slots", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create slot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("create slot returned %d: %s", resp.StatusCode, string(data))
	}

	var s state.SessionState
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode created slot: %w", err)
	}
	return &s, nil
}

// DeleteSlot removes a slot; a missing slot is not an error.
func DeleteSlot(ctx context.Context, client *http.Client, baseURL, slot string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, slotURL(baseURL, slot), nil)
	if err != nil {
		return fmt.Errorf("failed to create DELETE request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete slot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete slot returned %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

// PostTurn queues a turn and returns its request id.
func PostTurn(ctx context.Context, client *http.Client, baseURL, slot, utterance string, c *intent.Classification) (string, error) {
	turnReq := map[string]any{"utterance": utterance}
	if c != nil {
		turnReq["classification"] = c
	}
	body, err := json.Marshal(turnReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal turn request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, slotURL(baseURL, slot)+"/turns", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send turn request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("turns endpoint returned %d (expected 202): %s", resp.StatusCode, string(data))
	}

	var accepted turnAccepted
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", fmt.Errorf("failed to parse turn response: %w", err)
	}
	return accepted.RequestID, nil
}

// GetSlot retrieves the current slot state.
func GetSlot(ctx context.Context, client *http.Client, baseURL, slot string) (*state.SessionState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, slotURL(baseURL, slot), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create slot request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send slot request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("slot endpoint returned %d: %s", resp.StatusCode, string(data))
	}

	var s state.SessionState
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode slot: %w", err)
	}
	return &s, nil
}

// PollForCommit polls the slot until its checkpoint version moves past
// afterVersion, then returns the committed state.
func PollForCommit(ctx context.Context, client *http.Client, baseURL, slot string, afterVersion int64) (*state.SessionState, error) {
	timeout := time.After(CommitTimeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, fmt.Errorf("timeout waiting for turn commit (waited %v)", CommitTimeout)
		case <-ticker.C:
			s, err := GetSlot(ctx, client, baseURL, slot)
			if err != nil {
				// keep polling
				continue
			}
			if s.CheckpointVersion > afterVersion {
				return s, nil
			}
		}
	}
}
