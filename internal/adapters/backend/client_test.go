package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Dispatch/internal/auth"
	"github.com/dkeye/Dispatch/internal/domain"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_GetCallsEncodesFiltersAndToken(t *testing.T) {
	var gotQuery, gotAuth string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/calls", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]domain.Call{{ID: "c-1", Status: domain.CallStatusCompleted}})
	})

	p := auth.NewProvider()
	require.NoError(t, p.Login("tok"))
	c := NewClient(srv.URL+"/", WithAuth(p))

	calls, err := c.GetCalls(context.Background(), domain.CallFilters{Status: domain.CallStatusCompleted, Limit: 10})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, domain.CallID("c-1"), calls[0].ID)
	assert.Equal(t, "limit=10&status=completed", gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	})
	c := NewClient(srv.URL, WithAuth(auth.NewProvider()))
	calls, err := c.GetActiveCalls(context.Background())
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestClient_CallScopedPaths(t *testing.T) {
	var paths []string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/api/calls/c-1/transcript":
			_, _ = w.Write([]byte(`[{"text":"hi","speaker":"agent","timestamp":"2026-01-01T00:00:00Z"}]`))
		case "/api/calls/c-1/cancel":
			w.WriteHeader(http.StatusNoContent)
		default:
			_, _ = w.Write([]byte(`{"id":"c-1","status":"pending"}`))
		}
	})
	c := NewClient(srv.URL)
	ctx := context.Background()

	call, err := c.GetCallDetails(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusPending, call.Status)

	tr, err := c.GetCallTranscript(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, tr, 1)
	assert.Equal(t, domain.SpeakerAgent, tr[0].Speaker)

	require.NoError(t, c.CancelCall(ctx, "c-1"))
	_, err = c.RetryCall(ctx, "c-1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"GET /api/calls/c-1",
		"GET /api/calls/c-1/transcript",
		"POST /api/calls/c-1/cancel",
		"POST /api/calls/c-1/retry",
	}, paths)
}

func TestClient_InitializeCallSendsBody(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req domain.InitializeCallRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "L-9", req.LoadNumber)
		_ = json.NewEncoder(w).Encode(domain.Call{ID: "c-9", LoadNumber: req.LoadNumber, Status: domain.CallStatusInitiated})
	})
	c := NewClient(srv.URL)

	call, err := c.InitializeCall(context.Background(), domain.InitializeCallRequest{
		AgentID: "a", DriverName: "Ann", DriverPhone: "+1555", LoadNumber: "L-9",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallID("c-9"), call.ID)
}

func TestClient_AnalyticsDays(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("days"))
		_, _ = w.Write([]byte(`{"days":7,"total_calls":3}`))
	})
	a, err := NewClient(srv.URL).GetAnalytics(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalCalls)
}

func TestClient_APIError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such call", http.StatusNotFound)
	})
	_, err := NewClient(srv.URL).GetCallDetails(context.Background(), "nope")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "no such call", apiErr.Body)
	assert.ErrorIs(t, err, ErrNotFound)
}
