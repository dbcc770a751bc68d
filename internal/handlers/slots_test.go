package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	queueSvc "github.com/jwebster45206/dialogue-engine/internal/services/queue"
	"github.com/jwebster45206/dialogue-engine/pkg/queue"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
	"github.com/jwebster45206/dialogue-engine/pkg/storage"
	"github.com/jwebster45206/dialogue-engine/pkg/turn"
)

type fakeEnqueuer struct {
	requests []*queue.Request
	err      error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, req *queue.Request) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

type fakeNotifier struct {
	queued []string
}

func (f *fakeNotifier) PublishTurnQueued(ctx context.Context, slot, requestID string) error {
	f.queued = append(f.queued, slot+"/"+requestID)
	return nil
}

func newSlotHandler(t *testing.T) (*SlotHandler, *turn.Engine, *fakeEnqueuer, *fakeNotifier) {
	t.Helper()
	engine := turn.NewEngine(storage.NewMemoryStorage(), nil, nil, turn.Config{}, testLogger())
	q := &fakeEnqueuer{}
	n := &fakeNotifier{}
	return NewSlotHandler(engine, q, n, testLogger()), engine, q, n
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp.Error
}

func TestSlotHandler_CreateAndRead(t *testing.T) {
	h, _, _, _ := newSlotHandler(t)

	rr := serve(h, http.MethodPost, "/v1/slots", `{"slot":"save1"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created state.SessionState
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	assert.Equal(t, "save1", created.Slot)
	assert.Equal(t, int64(1), created.CheckpointVersion)

	rr = serve(h, http.MethodGet, "/v1/slots/save1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var loaded state.SessionState
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&loaded))
	assert.Equal(t, created.Slot, loaded.Slot)
	assert.Equal(t, created.CheckpointVersion, loaded.CheckpointVersion)
	assert.Equal(t, 0, loaded.Relationship)

	rr = serve(h, http.MethodPost, "/v1/slots", `{"slot":"save1"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Slot already exists", decodeError(t, rr))
}

func TestSlotHandler_List(t *testing.T) {
	h, engine, _, _ := newSlotHandler(t)
	for _, slot := range []string{"b", "a"} {
		_, err := engine.NewSession(context.Background(), slot)
		require.NoError(t, err)
	}

	rr := serve(h, http.MethodGet, "/v1/slots", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp ListSlotsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, []string{"a", "b"}, resp.Slots)
}

func TestSlotHandler_Delete(t *testing.T) {
	h, engine, _, _ := newSlotHandler(t)
	_, err := engine.NewSession(context.Background(), "save1")
	require.NoError(t, err)

	rr := serve(h, http.MethodDelete, "/v1/slots/save1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(h, http.MethodGet, "/v1/slots/save1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSlotHandler_QueueTurn(t *testing.T) {
	h, engine, q, n := newSlotHandler(t)
	_, err := engine.NewSession(context.Background(), "save1")
	require.NoError(t, err)

	rr := serve(h, http.MethodPost, "/v1/slots/save1/turns",
		`{"utterance":"Tell me about the vault.","classification":{"action":"ask","topic":"vault","is_probing_secret":true}}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var accepted TurnAccepted
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&accepted))
	assert.NotEmpty(t, accepted.RequestID)
	assert.Equal(t, "save1", accepted.Slot)
	assert.Equal(t, "queued", accepted.Status)

	require.Len(t, q.requests, 1)
	got := q.requests[0]
	assert.Equal(t, accepted.RequestID, got.RequestID)
	assert.Equal(t, "Tell me about the vault.", got.Utterance)
	require.NotNil(t, got.Classification)
	assert.Equal(t, "ask", got.Classification.Action)
	assert.True(t, got.Classification.IsProbingSecret)

	assert.Equal(t, []string{"save1/" + accepted.RequestID}, n.queued)

	// nothing was played yet
	s, err := engine.Store().Load(context.Background(), "save1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.CheckpointVersion)
}

func TestSlotHandler_QueueTurnToRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := queueSvc.NewClient("redis://"+mr.Addr(), testLogger())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	tq := queueSvc.NewTurnQueue(client, testLogger())

	engine := turn.NewEngine(storage.NewMemoryStorage(), nil, nil, turn.Config{}, testLogger())
	_, err = engine.NewSession(context.Background(), "save1")
	require.NoError(t, err)
	h := NewSlotHandler(engine, tq, nil, testLogger())

	rr := serve(h, http.MethodPost, "/v1/slots/save1/turns", `{"utterance":"Hello there."}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	pending, err := tq.Pending(context.Background(), "save1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	req := pending[0]
	assert.Equal(t, "save1", req.Slot)
	assert.Equal(t, "Hello there.", req.Utterance)
	assert.Nil(t, req.Classification)
}

func TestSlotHandler_Errors(t *testing.T) {
	h, engine, q, _ := newSlotHandler(t)
	_, err := engine.NewSession(context.Background(), "save1")
	require.NoError(t, err)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		queueErr       error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "invalid slot key",
			method:         http.MethodGet,
			path:           "/v1/slots/bad$slot",
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid slot key",
		},
		{
			name:           "create without slot",
			method:         http.MethodPost,
			path:           "/v1/slots",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid slot key",
		},
		{
			name:           "create with malformed body",
			method:         http.MethodPost,
			path:           "/v1/slots",
			body:           `{"slot":`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid request body",
		},
		{
			name:           "read unknown slot",
			method:         http.MethodGet,
			path:           "/v1/slots/missing",
			expectedStatus: http.StatusNotFound,
			expectedError:  "Slot not found",
		},
		{
			name:           "turn for unknown slot",
			method:         http.MethodPost,
			path:           "/v1/slots/missing/turns",
			body:           `{"utterance":"hi"}`,
			expectedStatus: http.StatusNotFound,
			expectedError:  "Slot not found",
		},
		{
			name:           "turn with malformed body",
			method:         http.MethodPost,
			path:           "/v1/slots/save1/turns",
			body:           `not json`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid request body",
		},
		{
			name:           "queue unavailable",
			method:         http.MethodPost,
			path:           "/v1/slots/save1/turns",
			body:           `{"utterance":"hi"}`,
			queueErr:       errors.New("redis down"),
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "Failed to queue turn",
		},
		{
			name:           "method not allowed on collection",
			method:         http.MethodPut,
			path:           "/v1/slots",
			expectedStatus: http.StatusMethodNotAllowed,
			expectedError:  "Method not allowed",
		},
		{
			name:           "method not allowed on turns",
			method:         http.MethodGet,
			path:           "/v1/slots/save1/turns",
			expectedStatus: http.StatusMethodNotAllowed,
			expectedError:  "Method not allowed",
		},
		{
			name:           "unknown sub-resource",
			method:         http.MethodGet,
			path:           "/v1/slots/save1/journal",
			expectedStatus: http.StatusNotFound,
			expectedError:  "Unknown slot endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q.err = tt.queueErr
			rr := serve(h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.True(t, strings.HasPrefix(decodeError(t, rr), tt.expectedError))
		})
	}
}
