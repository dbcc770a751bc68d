package classifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/dialogue-engine/pkg/intent"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHTTPClassifier_Classify(t *testing.T) {
	var got classifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"action":"persuade","topic":"Altar Vault","is_probing_secret":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, time.Second, testLogger())
	snap := intent.Snapshot{Slot: "s1", Turn: 3, Relationship: 25, Flags: map[string]bool{"artifact_shown": true}}

	raw, err := c.Classify(context.Background(), "Please, tell me what is under the altar.", snap)
	require.NoError(t, err)
	assert.Equal(t, intent.Classification{Action: "persuade", Topic: "Altar Vault", IsProbingSecret: true}, raw)

	assert.Equal(t, "Please, tell me what is under the altar.", got.Utterance)
	assert.Equal(t, 25, got.Relationship)
	assert.Equal(t, 3, got.Turn)
	assert.True(t, got.Flags["artifact_shown"])
}

func TestHTTPClassifier_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, time.Second, testLogger())
	_, err := c.Classify(context.Background(), "hello", intent.Snapshot{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPClassifier_MalformedBodyDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`I think they want to persuade`))
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, time.Second, testLogger())
	raw, err := c.Classify(context.Background(), "hello", intent.Snapshot{})
	require.NoError(t, err)

	ci, anomalies := intent.Validate(raw)
	assert.Equal(t, intent.ActionNone, ci.Action)
	assert.NotEmpty(t, anomalies)
}

func TestHTTPClassifier_GuardTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	g := intent.NewGuard(NewHTTPClassifier(srv.URL, 5*time.Second, testLogger()), 50*time.Millisecond, testLogger())
	_, err := g.Classify(context.Background(), "hello", intent.Snapshot{})
	assert.ErrorIs(t, err, intent.ErrClassifierUnavailable)
}

func TestHTTPClassifier_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewHTTPClassifier(url, time.Second, testLogger())
	_, err := c.Classify(context.Background(), "hello", intent.Snapshot{})
	assert.Error(t, err)
}
