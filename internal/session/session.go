package session

import (
	"sort"
	"time"
)

// Type distinguishes time-boxed sessions from open-ended ones.
type Type string

const (
	TypeTimeBoxed Type = "time-boxed"
	TypeOpen      Type = "open"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusDiscarded Status = "discarded"
)

// StatusNone describes the absence of a live session in error messages.
const StatusNone = "none"

// DefaultOpenCapSeconds is the maximum length of an open session (4 hours).
const DefaultOpenCapSeconds int64 = 4 * 60 * 60

// Session is one tracked focus interval. The JSON shape is both the local
// storage format and the remote wire format.
type Session struct {
	// ID is a client-generated ULID. It doubles as the idempotency key for remote creation.
	ID string `json:"id"`

	// RemoteID is the server-generated id, known after the first successful remote write.
	RemoteID string `json:"remoteId,omitempty"`

	Goal string `json:"goal,omitempty"`
	Type Type   `json:"sessionType"`

	// PlannedDurationSeconds is set iff Type is time-boxed
	PlannedDurationSeconds *int64 `json:"plannedDurationSeconds,omitempty"`

	Tags   []string `json:"tags"`
	Status Status   `json:"status"`

	StartedAt      time.Time       `json:"startedAt"`
	PauseIntervals []PauseInterval `json:"pauseIntervals"`

	// EndedAt is set iff Status is completed or discarded
	EndedAt *time.Time `json:"endedAt,omitempty"`

	// Rating (1-5) and Notes (markdown) are only set on completion
	Rating *int    `json:"rating,omitempty"`
	Notes  *string `json:"notes,omitempty"`

	// Version increases on every transition; stores keep the highest version they see.
	Version int64 `json:"version"`
}

// PauseInterval is a span during which elapsed time does not accrue.
// ResumedAt is nil while the pause is still open.
type PauseInterval struct {
	PausedAt  time.Time  `json:"pausedAt"`
	ResumedAt *time.Time `json:"resumedAt"`
}

// IsLive reports whether the session is active or paused.
func (s *Session) IsLive() bool {
	return s.Status == StatusActive || s.Status == StatusPaused
}

// IsTerminal reports whether the session is completed or discarded.
func (s *Session) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusDiscarded
}

// OpenPause returns the trailing unresumed pause interval, or nil.
func (s *Session) OpenPause() *PauseInterval {
	if n := len(s.PauseIntervals); n > 0 && s.PauseIntervals[n-1].ResumedAt == nil {
		return &s.PauseIntervals[n-1]
	}
	return nil
}

// Clone returns a deep copy so snapshots handed to stores and subscribers
// never alias the controller's working copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.PlannedDurationSeconds != nil {
		v := *s.PlannedDurationSeconds
		c.PlannedDurationSeconds = &v
	}
	if s.Tags != nil {
		c.Tags = append([]string(nil), s.Tags...)
	}
	if s.PauseIntervals != nil {
		c.PauseIntervals = make([]PauseInterval, len(s.PauseIntervals))
		for i, p := range s.PauseIntervals {
			c.PauseIntervals[i] = PauseInterval{PausedAt: p.PausedAt}
			if p.ResumedAt != nil {
				r := *p.ResumedAt
				c.PauseIntervals[i].ResumedAt = &r
			}
		}
	}
	if s.EndedAt != nil {
		e := *s.EndedAt
		c.EndedAt = &e
	}
	if s.Rating != nil {
		r := *s.Rating
		c.Rating = &r
	}
	if s.Notes != nil {
		n := *s.Notes
		c.Notes = &n
	}
	return &c
}

// Filter selects sessions by start time. Zero values mean unbounded.
type Filter struct {
	From  *time.Time `json:"from,omitempty"`
	To    *time.Time `json:"to,omitempty"`
	Limit int        `json:"limit,omitempty"`
}

// Matches reports whether s started within [From, To].
func (f Filter) Matches(s *Session) bool {
	if f.From != nil && s.StartedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && s.StartedAt.After(*f.To) {
		return false
	}
	return true
}

// Apply filters, orders by StartedAt descending (ties by ID descending) and
// truncates to Limit. The input slice is not modified.
func (f Filter) Apply(sessions []*Session) []*Session {
	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if f.Matches(s) {
			out = append(out, s)
		}
	}
	SortByStartDesc(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// SortByStartDesc orders sessions newest first.
func SortByStartDesc(sessions []*Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
}
