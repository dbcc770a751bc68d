package queue

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/dialogue-engine/pkg/intent"
)

// ErrClaimLost means another consumer now owns the slot's requests.
var ErrClaimLost = errors.New("slot claim lost")

// Request is one queued dialogue turn.
type Request struct {
	RequestID string `json:"request_id"`
	Slot      string `json:"slot"`
	Utterance string `json:"utterance"`

	// Classification is set when an upstream gateway already classified
	// the utterance; the worker then skips the classifier provider.
	Classification *intent.Classification `json:"classification,omitempty"`

	// Requeues counts how often the request went back to the head of its
	// slot's queue because the slot was busy.
	Requeues int `json:"requeues,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewRequest builds a request with a fresh id.
func NewRequest(slot, utterance string, c *intent.Classification) *Request {
	return &Request{
		RequestID:      uuid.NewString(),
		Slot:           slot,
		Utterance:      utterance,
		Classification: c,
		EnqueuedAt:     time.Now().UTC(),
	}
}

// Validate checks the fields a worker cannot do without.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.RequestID) == "" {
		return errors.New("request_id is required")
	}
	if strings.TrimSpace(r.Slot) == "" {
		return errors.New("slot is required")
	}
	return nil
}

// ToJSON converts the request to JSON bytes for Redis
func (r *Request) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON parses a request from JSON bytes
func FromJSON(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
