package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/ideacapture/internal/auth"
	"github.com/dukerupert/ideacapture/internal/database"
	"github.com/dukerupert/ideacapture/internal/store"
)

const testUserID = "0b7e6a43-6c1d-4f0e-8d5a-3e2f9c4b1a77"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.SnapshotStore {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewSnapshotStore(db)
}

// authed builds a request carrying an authenticated user, as RequireAuth would.
func authed(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	ctx := auth.WithAuth(req.Context(), auth.AuthContext{UserID: testUserID, Email: "alice@example.com"})
	return req.WithContext(ctx)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Limit   json.RawMessage `json:"limit"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

type recordingMetrics struct {
	events        map[string]int
	denials       map[string]int
	writeFailures map[string]int
	observed      int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		events:        map[string]int{},
		denials:       map[string]int{},
		writeFailures: map[string]int{},
	}
}

func (m *recordingMetrics) WebhookEvent(kind, outcome string) {
	m.events[kind+"/"+outcome]++
}

func (m *recordingMetrics) ObserveWebhook(time.Duration) {
	m.observed++
}

func (m *recordingMetrics) QuotaDenied(action string) {
	m.denials[action]++
}

func (m *recordingMetrics) SnapshotWriteFailed(source string) {
	m.writeFailures[source]++
}
