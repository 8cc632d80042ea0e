package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dimaakimm/hseai-session/internal/autherr"
	"github.com/dimaakimm/hseai-session/internal/credential"
	"github.com/dimaakimm/hseai-session/internal/guard"
	"github.com/dimaakimm/hseai-session/internal/modeltoken"
	"github.com/dimaakimm/hseai-session/internal/sid"
	"github.com/dimaakimm/hseai-session/internal/storage"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopReauthorizer struct{ calls atomic.Int32 }

func (r *noopReauthorizer) ForceReauthorize(context.Context) { r.calls.Add(1) }

func newGuard(t *testing.T) (*guard.Guard, *noopReauthorizer) {
	t.Helper()
	now := time.Unix(1_767_225_600, 0)
	var n atomic.Int32
	ex := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-%d","expires_at":%d}`, n.Add(1), now.Add(time.Hour).Unix())
	}))
	t.Cleanup(ex.Close)

	kv := storage.NewMemoryStorage()
	require.NoError(t, kv.Set(context.Background(), sid.DefaultStorageKey, "abc123"))
	attacher, err := sid.NewAttacher(sid.ModeQuery, sid.NewResolver(nil, kv))
	require.NoError(t, err)
	acq, err := modeltoken.NewAcquirer(ex.URL, "", credential.NewStore(), attacher,
		modeltoken.WithClock(clockwork.NewFakeClockAt(now)))
	require.NoError(t, err)

	re := &noopReauthorizer{}
	return guard.New(acq, re), re
}

func TestPredict(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"text":"привет"}`, string(body))
		_, _ = w.Write([]byte(`{"label":"greeting","score":0.98}`))
	}))
	defer backend.Close()

	g, _ := newGuard(t)
	c, err := NewClient(g, map[string]string{BackendClassifier: backend.URL}, nil)
	require.NoError(t, err)

	out, err := c.Predict(context.Background(), BackendClassifier, json.RawMessage(`{"text":"привет"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"label":"greeting","score":0.98}`, string(out))
}

func TestPredictUnknownBackend(t *testing.T) {
	g, _ := newGuard(t)
	c, err := NewClient(g, DefaultBackends, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{BackendClassifier, BackendRAG}, c.Backends())

	_, err = c.Predict(context.Background(), "translator", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestPredictRejectsInvalidPayload(t *testing.T) {
	g, _ := newGuard(t)
	c, err := NewClient(g, DefaultBackends, nil)
	require.NoError(t, err)

	_, err = c.Predict(context.Background(), BackendRAG, json.RawMessage(`{"q":`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestPredictServerError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model is loading", http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	g, re := newGuard(t)
	c, err := NewClient(g, map[string]string{BackendRAG: backend.URL}, nil)
	require.NoError(t, err)

	_, err = c.Predict(context.Background(), BackendRAG, json.RawMessage(`{}`))
	var se *autherr.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Contains(t, se.Body, "model is loading")
	assert.Zero(t, re.calls.Load())
}

func TestPredictUnauthenticated(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer backend.Close()

	g, re := newGuard(t)
	c, err := NewClient(g, map[string]string{BackendRAG: backend.URL}, nil)
	require.NoError(t, err)

	_, err = c.Predict(context.Background(), BackendRAG, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, autherr.ErrUnauthenticated)
	assert.EqualValues(t, 1, re.calls.Load())
}
