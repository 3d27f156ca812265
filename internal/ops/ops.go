// Package ops implements the user-facing operations shared by the CLI and
// the MCP server. Each operation takes an XInput and returns an XOutput.
package ops

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/hpungsan/stint/internal/app"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/session"
)

// List limits
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// SessionView is a session plus its derived timing.
type SessionView struct {
	*session.Session
	ElapsedSeconds   int64  `json:"elapsedSeconds"`
	RemainingSeconds *int64 `json:"remainingSeconds,omitempty"`
	CapExceeded      bool   `json:"capExceeded,omitempty"`
	Elapsed          string `json:"elapsed"`
	Started          string `json:"started"`
}

func viewOf(a *app.App, s *session.Session) *SessionView {
	if s == nil {
		return nil
	}
	now := a.Now()
	t := session.Compute(s, now, int64(a.Config.OpenSessionCapSeconds))
	return &SessionView{
		Session:          s,
		ElapsedSeconds:   t.ElapsedSeconds,
		RemainingSeconds: t.RemainingSeconds,
		CapExceeded:      t.CapExceeded,
		Elapsed:          FormatDuration(t.ElapsedSeconds),
		Started:          humanize.RelTime(s.StartedAt, now, "ago", "from now"),
	}
}

func viewsOf(a *app.App, list []*session.Session) []*SessionView {
	out := make([]*SessionView, 0, len(list))
	for _, s := range list {
		out = append(out, viewOf(a, s))
	}
	return out
}

// FormatDuration renders seconds as "1h05m09s", "25m00s" or "42s".
func FormatDuration(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// ParseTime accepts RFC3339, a few fixed layouts and natural language such
// as "yesterday" or "last monday", resolved against now.
func ParseTime(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return &t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err == nil && r != nil {
		return &r.Time, nil
	}
	return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot parse time %q", s))
}

// parseRange parses from/to and rejects an inverted window.
func parseRange(from, to string, now time.Time) (*time.Time, *time.Time, error) {
	f, err := ParseTime(from, now)
	if err != nil {
		return nil, nil, err
	}
	t, err := ParseTime(to, now)
	if err != nil {
		return nil, nil, err
	}
	if f != nil && t != nil && t.Before(*f) {
		return nil, nil, errors.NewInvalidRequest("to must not be before from")
	}
	return f, t, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
