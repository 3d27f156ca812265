package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/guest"
	"github.com/hpungsan/stint/internal/remote"
	"github.com/hpungsan/stint/internal/session"
)

// maxBodyBytes bounds request bodies; notes are at most a few hundred KB.
const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		s.logger.Printf("health: %v", err)
		writeError(w, r, errors.NewPersistence("repository", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var in session.Session
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.ID != key {
		writeError(w, r, errors.NewInvalidRequest("Idempotency-Key must equal the session id"))
		return
	}
	if err := session.Validate(&in); err != nil {
		writeError(w, r, err)
		return
	}

	userID := UserID(r.Context())
	unlock, err := s.locker.Lock(r.Context(), userID+":session:"+key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer unlock()

	out, created, err := s.repo.CreateSession(r.Context(), userID, &in)
	if err != nil {
		s.writeRepoError(w, r, "create session", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	remoteID := chi.URLParam(r, "id")
	if remoteID == "" {
		writeError(w, r, errors.NewInvalidRequest("session id is required"))
		return
	}

	var in session.Session
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := session.Validate(&in); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := s.repo.UpdateSession(r.Context(), UserID(r.Context()), remoteID, &in)
	if err != nil {
		s.writeRepoError(w, r, "update session", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.repo.ListSessions(r.Context(), UserID(r.Context()), f)
	if err != nil {
		s.writeRepoError(w, r, "list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in guest.Note
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.ID != key {
		writeError(w, r, errors.NewInvalidRequest("Idempotency-Key must equal the note id"))
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		writeError(w, r, errors.NewInvalidRequest("title is required"))
		return
	}

	userID := UserID(r.Context())
	unlock, err := s.locker.Lock(r.Context(), userID+":note:"+key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer unlock()

	out, created, err := s.repo.CreateNote(r.Context(), userID, in)
	if err != nil {
		s.writeRepoError(w, r, "create note", err)
		return
	}
	writeJSON(w, createdStatus(created), out)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	out, err := s.repo.ListNotes(r.Context(), UserID(r.Context()))
	if err != nil {
		s.writeRepoError(w, r, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": out})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in guest.Task
	if err := decodeBody(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.ID != key {
		writeError(w, r, errors.NewInvalidRequest("Idempotency-Key must equal the task id"))
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		writeError(w, r, errors.NewInvalidRequest("title is required"))
		return
	}

	userID := UserID(r.Context())
	unlock, err := s.locker.Lock(r.Context(), userID+":task:"+key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer unlock()

	out, created, err := s.repo.CreateTask(r.Context(), userID, in)
	if err != nil {
		s.writeRepoError(w, r, "create task", err)
		return
	}
	writeJSON(w, createdStatus(created), out)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	out, err := s.repo.ListTasks(r.Context(), UserID(r.Context()))
	if err != nil {
		s.writeRepoError(w, r, "list tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func idempotencyKey(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(remote.IdempotencyHeader))
	if key == "" {
		return "", errors.NewInvalidRequest("Idempotency-Key header is required")
	}
	if len(key) > remote.MaxIdempotencyKeyLen {
		return "", errors.NewInvalidRequest(fmt.Sprintf("Idempotency-Key exceeds %d characters", remote.MaxIdempotencyKeyLen))
	}
	return key, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.NewInvalidRequest("invalid request body")
	}
	return nil
}

func parseFilter(r *http.Request) (session.Filter, error) {
	var f session.Filter
	q := r.URL.Query()

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.NewInvalidRequest("from must be RFC3339")
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.NewInvalidRequest("to must be RFC3339")
		}
		f.To = &t
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, errors.NewInvalidRequest("to must not be before from")
	}

	f.Limit = DefaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, errors.NewInvalidRequest("limit must be a positive integer")
		}
		if n > MaxListLimit {
			n = MaxListLimit
		}
		f.Limit = n
	}
	return f, nil
}

// writeRepoError logs unexpected repository failures before responding.
func (s *Server) writeRepoError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if se, ok := errors.As(err); !ok || se.Status >= 500 {
		s.logger.Printf("%s: %v (request_id=%s)", op, err, chimiddleware.GetReqID(r.Context()))
	}
	writeError(w, r, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	se, ok := errors.As(err)
	if !ok {
		se = errors.NewInternal(err)
	}
	msg := se.Message
	if se.Code == errors.ErrInternal {
		msg = "internal error"
	}

	var env remote.ErrorEnvelope
	env.Error.Code = string(se.Code)
	env.Error.Message = msg
	env.Error.RequestID = chimiddleware.GetReqID(r.Context())
	writeJSON(w, se.Status, env)
}
