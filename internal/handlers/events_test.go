package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/dialogue-engine/internal/services/events"
)

// readEvent returns the next SSE event name and data payload.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}

func TestEventsHandler_StreamsSlotEvents(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	srv := httptest.NewServer(NewEventsHandler(rdb, testLogger()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/slots/save1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := bufio.NewReader(resp.Body)
	name, _ := readEvent(t, body)
	require.Equal(t, "connected", name)

	b := events.NewBroadcaster(rdb, testLogger())
	require.NoError(t, b.PublishTurnQueued(ctx, "save1", "req-1"))
	require.NoError(t, b.PublishTurnQueued(ctx, "other", "req-2"))
	require.NoError(t, b.PublishTurnQueued(ctx, "save1", "req-3"))

	for _, want := range []string{"req-1", "req-3"} {
		name, data := readEvent(t, body)
		assert.Equal(t, string(events.EventTypeTurnQueued), name)
		var ev events.Event
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		assert.Equal(t, "save1", ev.Slot)
		assert.Equal(t, want, ev.RequestID)
	}
}

func TestEventsHandler_BadRequests(t *testing.T) {
	h := NewEventsHandler(nil, testLogger())

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{name: "post", method: http.MethodPost, path: "/v1/events/slots/save1", expectedStatus: http.StatusMethodNotAllowed},
		{name: "missing slot", method: http.MethodGet, path: "/v1/events/slots", expectedStatus: http.StatusBadRequest},
		{name: "invalid slot", method: http.MethodGet, path: "/v1/events/slots/a$b", expectedStatus: http.StatusBadRequest},
		{name: "wrong prefix", method: http.MethodGet, path: "/v1/events/games/save1", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}
