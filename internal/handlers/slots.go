package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/dialogue-engine/pkg/intent"
	"github.com/jwebster45206/dialogue-engine/pkg/queue"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
	"github.com/jwebster45206/dialogue-engine/pkg/storage"
	"github.com/jwebster45206/dialogue-engine/pkg/turn"
)

// maxBodyBytes caps request bodies on the slot endpoints.
const maxBodyBytes = 16 << 10

type ErrorResponse struct {
	Error string `json:"error"`
}

// Sessions creates and reads save slots. *turn.Engine implements the
// create half; Store gives read access.
type Sessions interface {
	NewSession(ctx context.Context, slot string) (*state.SessionState, error)
	Store() storage.Storage
}

// Enqueuer accepts turn requests for the workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *queue.Request) error
}

// QueueNotifier announces that a turn was accepted. Optional.
type QueueNotifier interface {
	PublishTurnQueued(ctx context.Context, slot, requestID string) error
}

// CreateSlotRequest is the body of POST /v1/slots.
type CreateSlotRequest struct {
	Slot string `json:"slot"`
}

// ListSlotsResponse is the body of GET /v1/slots.
type ListSlotsResponse struct {
	Slots []string `json:"slots"`
}

// TurnRequest is the body of POST /v1/slots/{slot}/turns.
type TurnRequest struct {
	Utterance      string                 `json:"utterance"`
	Classification *intent.Classification `json:"classification,omitempty"`
}

// TurnAccepted is returned once a turn is on the queue.
type TurnAccepted struct {
	RequestID string `json:"request_id"`
	Slot      string `json:"slot"`
	Status    string `json:"status"`
}

type SlotHandler struct {
	sessions Sessions
	queue    Enqueuer
	notifier QueueNotifier
	logger   *slog.Logger
}

// NewSlotHandler serves the slot endpoints. notifier may be nil.
func NewSlotHandler(sessions Sessions, q Enqueuer, notifier QueueNotifier, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{
		sessions: sessions,
		queue:    q,
		notifier: notifier,
		logger:   logger,
	}
}

// ServeHTTP handles HTTP requests for save slots
// Routes:
// GET    /v1/slots               - List slots
// POST   /v1/slots               - Create a slot
// GET    /v1/slots/{slot}        - Read the slot's checkpoint
// DELETE /v1/slots/{slot}        - Delete the slot
// POST   /v1/slots/{slot}/turns  - Queue a dialogue turn
func (h *SlotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/slots"), "/")
	parts := strings.Split(path, "/")

	switch {
	case path == "":
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			h.methodNotAllowed(w, r, "GET, POST")
		}

	case len(parts) == 1:
		slot := parts[0]
		if !h.validSlot(w, slot) {
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.handleRead(w, r, slot)
		case http.MethodDelete:
			h.handleDelete(w, r, slot)
		default:
			h.methodNotAllowed(w, r, "GET, DELETE")
		}

	case len(parts) == 2 && parts[1] == "turns":
		slot := parts[0]
		if !h.validSlot(w, slot) {
			return
		}
		if r.Method != http.MethodPost {
			h.methodNotAllowed(w, r, "POST")
			return
		}
		h.handleTurn(w, r, slot)

	default:
		h.writeError(w, http.StatusNotFound, "Unknown slot endpoint")
	}
}

func (h *SlotHandler) handleList(w http.ResponseWriter, r *http.Request) {
	slots, err := h.sessions.Store().ListSlots(r.Context())
	if err != nil {
		h.logger.Error("Failed to list slots", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list slots")
		return
	}
	h.writeJSON(w, http.StatusOK, ListSlotsResponse{Slots: slots})
}

func (h *SlotHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var request CreateSlotRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&request); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body. Expected JSON with 'slot' field.")
		return
	}
	if !h.validSlot(w, request.Slot) {
		return
	}

	s, err := h.sessions.NewSession(r.Context(), request.Slot)
	switch {
	case errors.Is(err, turn.ErrSessionExists):
		h.writeError(w, http.StatusConflict, "Slot already exists")
		return
	case err != nil:
		h.logger.Error("Failed to create slot", "slot", request.Slot, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to create slot")
		return
	}

	h.logger.Info("Slot created", "slot", s.Slot)
	h.writeJSON(w, http.StatusCreated, s)
}

func (h *SlotHandler) handleRead(w http.ResponseWriter, r *http.Request, slot string) {
	s, err := h.sessions.Store().Load(r.Context(), slot)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Slot not found")
		return
	case err != nil:
		h.logger.Error("Failed to load slot", "slot", slot, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load slot")
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

func (h *SlotHandler) handleDelete(w http.ResponseWriter, r *http.Request, slot string) {
	if err := h.sessions.Store().Delete(r.Context(), slot); err != nil {
		h.logger.Error("Failed to delete slot", "slot", slot, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to delete slot")
		return
	}
	h.logger.Info("Slot deleted", "slot", slot)
	w.WriteHeader(http.StatusNoContent)
}

func (h *SlotHandler) handleTurn(w http.ResponseWriter, r *http.Request, slot string) {
	var request TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&request); err != nil {
		h.logger.Warn("Invalid turn request body", "slot", slot, "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body. Expected JSON with 'utterance' field.")
		return
	}

	if _, err := h.sessions.Store().Load(r.Context(), slot); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Slot not found")
			return
		}
		h.logger.Error("Failed to load slot", "slot", slot, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load slot")
		return
	}

	req := queue.NewRequest(slot, request.Utterance, request.Classification)
	if err := h.queue.Enqueue(r.Context(), req); err != nil {
		h.logger.Error("Failed to enqueue turn", "slot", slot, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "Failed to queue turn. Please try again.")
		return
	}

	if h.notifier != nil {
		if err := h.notifier.PublishTurnQueued(context.WithoutCancel(r.Context()), slot, req.RequestID); err != nil {
			h.logger.Warn("Failed to publish queued event", "slot", slot, "request_id", req.RequestID, "error", err)
		}
	}

	h.logger.Info("Turn queued", "slot", slot, "request_id", req.RequestID)
	h.writeJSON(w, http.StatusAccepted, TurnAccepted{
		RequestID: req.RequestID,
		Slot:      slot,
		Status:    "queued",
	})
}

func (h *SlotHandler) validSlot(w http.ResponseWriter, slot string) bool {
	if err := storage.ValidateSlot(slot); err != nil {
		h.logger.Warn("Invalid slot key", "slot", slot)
		h.writeError(w, http.StatusBadRequest, "Invalid slot key. Use 1-64 letters, digits, '.', '_' or '-'.")
		return false
	}
	return true
}

func (h *SlotHandler) methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	h.logger.Warn("Method not allowed for slot endpoint", "method", r.Method, "path", r.URL.Path)
	w.Header().Set("Allow", allowed)
	h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: "+allowed)
}

func (h *SlotHandler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg})
}

func (h *SlotHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}
