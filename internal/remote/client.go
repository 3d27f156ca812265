// Package remote is the HTTP client for the account-backed session API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/guest"
	"github.com/hpungsan/stint/internal/session"
)

// APIPrefix is the path prefix of every endpoint.
const APIPrefix = "/api/v1"

// IdempotencyHeader carries the client id on create requests.
const IdempotencyHeader = "Idempotency-Key"

// MaxIdempotencyKeyLen bounds the idempotency key accepted by the server.
const MaxIdempotencyKeyLen = 128

const storeName = "remote api"

// Client talks to the remote API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a Client. httpClient may be nil.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// ErrorEnvelope is the error body returned by the API.
type ErrorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

// CreateSession creates s keyed by its client id. created is false when the
// server replayed an earlier create with the same key.
func (c *Client) CreateSession(ctx context.Context, s *session.Session) (out *session.Session, created bool, err error) {
	status, err := c.do(ctx, http.MethodPost, "/sessions", s.ID, s, &out)
	if err != nil {
		return nil, false, err
	}
	return out, status == http.StatusCreated, nil
}

// UpdateSession sends the full record for remoteID. The server keeps its copy
// when the stored version is newer and returns whichever record it holds.
func (c *Client) UpdateSession(ctx context.Context, remoteID string, s *session.Session) (*session.Session, error) {
	var out *session.Session
	if _, err := c.do(ctx, http.MethodPatch, "/sessions/"+url.PathEscape(remoteID), "", s, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSessions returns sessions matching f, newest first.
func (c *Client) ListSessions(ctx context.Context, f session.Filter) ([]*session.Session, error) {
	q := url.Values{}
	if f.From != nil {
		q.Set("from", f.From.UTC().Format(time.RFC3339))
	}
	if f.To != nil {
		q.Set("to", f.To.UTC().Format(time.RFC3339))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/sessions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Sessions []*session.Session `json:"sessions"`
	}
	if _, err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// CreateNote creates a note keyed by its client id.
func (c *Client) CreateNote(ctx context.Context, n guest.Note) (guest.Note, error) {
	var out guest.Note
	_, err := c.do(ctx, http.MethodPost, "/notes", n.ID, n, &out)
	return out, err
}

// ListNotes returns the account's notes.
func (c *Client) ListNotes(ctx context.Context) ([]guest.Note, error) {
	var out struct {
		Notes []guest.Note `json:"notes"`
	}
	_, err := c.do(ctx, http.MethodGet, "/notes", "", nil, &out)
	return out.Notes, err
}

// CreateTask creates a task keyed by its client id.
func (c *Client) CreateTask(ctx context.Context, t guest.Task) (guest.Task, error) {
	var out guest.Task
	_, err := c.do(ctx, http.MethodPost, "/tasks", t.ID, t, &out)
	return out, err
}

// ListTasks returns the account's tasks.
func (c *Client) ListTasks(ctx context.Context) ([]guest.Task, error) {
	var out struct {
		Tasks []guest.Task `json:"tasks"`
	}
	_, err := c.do(ctx, http.MethodGet, "/tasks", "", nil, &out)
	return out.Tasks, err
}

// Health checks that the server answers.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", "", nil, nil)
	return err
}

// do sends one request and decodes a 2xx body into out. Transport failures
// and 5xx responses become PERSISTENCE errors; 4xx responses map to the
// matching StintError code.
func (c *Client) do(ctx context.Context, method, path, idemKey string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, errors.NewInternal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+APIPrefix+path, reader)
	if err != nil {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("invalid remote url: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idemKey != "" {
		req.Header.Set(IdempotencyHeader, idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, errors.NewCancelled(method + " " + path)
		}
		return 0, errors.NewPersistence(storeName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errors.NewPersistence(storeName, fmt.Errorf("decode response: %w", err))
		}
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	var env ErrorEnvelope
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &env)

	msg := env.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("remote returned %d", resp.StatusCode)
	}

	var e *errors.StintError
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e = errors.NewUnauthorized(msg)
	case resp.StatusCode == http.StatusNotFound:
		e = errors.NewNotFound("remote record", resp.Request.URL.Path)
	case resp.StatusCode == http.StatusConflict:
		e = &errors.StintError{Code: errors.ErrConflict, Status: http.StatusConflict, Message: msg}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		e = errors.NewInvalidRequest(msg)
	default:
		e = errors.NewPersistence(storeName, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	if env.Error.RequestID != "" {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details["request_id"] = env.Error.RequestID
	}
	return e
}
