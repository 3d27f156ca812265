package ops

import (
	"context"
	"slices"
	"time"

	"github.com/hpungsan/stint/internal/app"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/session"
)

const flushTimeout = 2 * time.Second

// ListInput contains parameters for the List operation.
type ListInput struct {
	From  string // RFC3339, date or natural language; inclusive
	To    string
	Tag   string // optional, matched after normalization
	Limit int    // default: 50, max: 500
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Mode     string         `json:"mode"`
	Sessions []*SessionView `json:"sessions"`
	Count    int            `json:"count"`
	Sort     string         `json:"sort"`
}

// List returns sessions from the active backend, newest first.
func List(ctx context.Context, a *app.App, input ListInput) (*ListOutput, error) {
	list, err := listSessions(ctx, a, input.From, input.To, input.Tag, clampLimit(input.Limit))
	if err != nil {
		return nil, err
	}
	return &ListOutput{
		Mode:     a.Mode(),
		Sessions: viewsOf(a, list),
		Count:    len(list),
		Sort:     "started_at_desc",
	}, nil
}

func listSessions(ctx context.Context, a *app.App, from, to, tag string, limit int) ([]*session.Session, error) {
	f, t, err := parseRange(from, to, a.Now())
	if err != nil {
		return nil, err
	}

	tag = session.NormalizeTag(tag)
	fetch := limit
	if tag != "" {
		// Tag filtering happens client side; widen the window.
		fetch = MaxListLimit
	}

	// Let queued snapshots land so the live session shows up.
	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	_ = a.Writer.Flush(flushCtx)
	cancel()

	list, err := a.Facade.List(ctx, session.Filter{From: f, To: t, Limit: fetch})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("list")
		}
		return nil, err
	}
	if tag != "" {
		list = slices.DeleteFunc(list, func(s *session.Session) bool {
			return !slices.Contains(s.Tags, tag)
		})
		if len(list) > limit {
			list = list[:limit]
		}
	}
	return list, nil
}
