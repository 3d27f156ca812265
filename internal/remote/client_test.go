package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/guest"
	"github.com/hpungsan/stint/internal/session"
	"github.com/stretchr/testify/require"
)

func testSession() *session.Session {
	return &session.Session{
		ID:        "01CLIENTID",
		Type:      session.TypeOpen,
		Status:    session.StatusActive,
		StartedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Tags:      []string{"go"},
		Version:   1,
	}
}

func TestCreateSession_SendsHeadersAndReportsCreated(t *testing.T) {
	var gotKey, gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(IdempotencyHeader)
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var s session.Session
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s))
		s.RemoteID = "uuid-1"
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(s)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok", nil)
	out, created, err := c.CreateSession(context.Background(), testSession())
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "uuid-1", out.RemoteID)
	require.Equal(t, "01CLIENTID", gotKey)
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, "/api/v1/sessions", gotPath)
}

func TestCreateSession_ReplayIsNotCreated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(testSession())
	}))
	defer srv.Close()

	_, created, err := New(srv.URL, "tok", nil).CreateSession(context.Background(), testSession())
	require.NoError(t, err)
	require.False(t, created)
}

func TestUpdateSession_UsesRemoteID(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		json.NewEncoder(w).Encode(testSession())
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok", nil).UpdateSession(context.Background(), "uuid-9", testSession())
	require.NoError(t, err)
	require.Equal(t, http.MethodPatch, method)
	require.Equal(t, "/api/v1/sessions/uuid-9", path)
}

func TestListSessions_EncodesFilter(t *testing.T) {
	var query map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		json.NewEncoder(w).Encode(map[string]any{"sessions": []*session.Session{testSession()}})
	}))
	defer srv.Close()

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := New(srv.URL, "tok", nil).ListSessions(context.Background(), session.Filter{From: &from, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []string{"2026-03-01T00:00:00Z"}, query["from"])
	require.Equal(t, []string{"10"}, query["limit"])
	require.NotContains(t, query, "to")
}

func TestNotesAndTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "POST /api/v1/notes":
			require.Equal(t, "n1", r.Header.Get(IdempotencyHeader))
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(guest.Note{ID: "n1", Title: "t"})
		case "GET /api/v1/notes":
			json.NewEncoder(w).Encode(map[string]any{"notes": []guest.Note{{ID: "n1"}}})
		case "POST /api/v1/tasks":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(guest.Task{ID: "t1", Done: true})
		case "GET /api/v1/tasks":
			json.NewEncoder(w).Encode(map[string]any{"tasks": []guest.Task{{ID: "t1"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", nil)
	ctx := context.Background()

	n, err := c.CreateNote(ctx, guest.Note{ID: "n1", Title: "t"})
	require.NoError(t, err)
	require.Equal(t, "n1", n.ID)

	notes, err := c.ListNotes(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	task, err := c.CreateTask(ctx, guest.Task{ID: "t1", Done: true})
	require.NoError(t, err)
	require.True(t, task.Done)

	tasks, err := c.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   errors.ErrorCode
	}{
		{http.StatusBadRequest, errors.ErrInvalidRequest},
		{http.StatusUnauthorized, errors.ErrUnauthorized},
		{http.StatusNotFound, errors.ErrNotFound},
		{http.StatusConflict, errors.ErrConflict},
		{http.StatusInternalServerError, errors.ErrPersistence},
		{http.StatusServiceUnavailable, errors.ErrPersistence},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "X", "message": "nope", "request_id": "req-1"}})
			}))
			defer srv.Close()

			_, err := New(srv.URL, "tok", nil).ListSessions(context.Background(), session.Filter{})
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.want), "got %v", err)

			se, ok := errors.As(err)
			require.True(t, ok)
			require.Equal(t, "req-1", se.Details["request_id"])
		})
	}
}

func TestTransportFailureIsPersistence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := New(url, "tok", nil).Health(context.Background())
	require.True(t, errors.Is(err, errors.ErrPersistence), "got %v", err)
}

func TestCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(srv.URL, "tok", nil).Health(ctx)
	require.True(t, errors.Is(err, errors.ErrCancelled), "got %v", err)
}
