package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/guest"
	"github.com/hpungsan/stint/internal/session"
)

// List limits for GET /sessions
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Repository stores account records. Creates are idempotent per
// (user, client id): a repeated create returns the stored record and
// created=false.
type Repository interface {
	CreateSession(ctx context.Context, userID string, s *session.Session) (out *session.Session, created bool, err error)
	// UpdateSession replaces the record when s.Version >= the stored version
	// and returns whichever record is stored afterwards.
	UpdateSession(ctx context.Context, userID, remoteID string, s *session.Session) (*session.Session, error)
	ListSessions(ctx context.Context, userID string, f session.Filter) ([]*session.Session, error)

	CreateNote(ctx context.Context, userID string, n guest.Note) (guest.Note, bool, error)
	ListNotes(ctx context.Context, userID string) ([]guest.Note, error)
	CreateTask(ctx context.Context, userID string, t guest.Task) (guest.Task, bool, error)
	ListTasks(ctx context.Context, userID string) ([]guest.Task, error)

	Ping(ctx context.Context) error
	Close() error
}

// sessionRow is the indexed projection stored next to the JSON document.
type sessionRow struct {
	RemoteID  string
	ClientID  string
	StartedAt int64
	Version   int64
	Data      string
}

func toSessionRow(remoteID string, s *session.Session) (sessionRow, error) {
	c := s.Clone()
	c.RemoteID = remoteID
	data, err := json.Marshal(c)
	if err != nil {
		return sessionRow{}, errors.NewInternal(err)
	}
	return sessionRow{
		RemoteID:  remoteID,
		ClientID:  s.ID,
		StartedAt: s.StartedAt.UnixNano(),
		Version:   s.Version,
		Data:      string(data),
	}, nil
}

func decodeSession(data string) (*session.Session, error) {
	var s session.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, errors.NewInternal(err)
	}
	return &s, nil
}

func decodeItem[T any](data string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return v, errors.NewInternal(err)
	}
	return v, nil
}

func encodeItem(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return string(data), nil
}

// listBounds converts a filter into inclusive nanosecond bounds and a limit.
func listBounds(f session.Filter) (from, to int64, limit int) {
	from, to = -1<<63, 1<<63-1
	if f.From != nil {
		from = f.From.UnixNano()
	}
	if f.To != nil {
		to = f.To.UnixNano()
	}
	limit = f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return from, to, limit
}

func nowUnix() int64 { return time.Now().Unix() }
