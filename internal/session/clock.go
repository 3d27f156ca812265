package session

import "time"

// Timing is the derived timer state of a session at a given instant.
type Timing struct {
	ElapsedSeconds int64 `json:"elapsedSeconds"`

	// RemainingSeconds is nil for open sessions
	RemainingSeconds *int64 `json:"remainingSeconds"`

	// CapExceeded is true when an open session has run for at least the cap
	CapExceeded bool `json:"capExceeded"`
}

// Compute derives elapsed/remaining seconds from the recorded start, pause
// spans and type. Terminal sessions are measured up to EndedAt, live ones up
// to now. It reads s and never mutates it.
func Compute(s *Session, now time.Time, capSeconds int64) Timing {
	elapsed := int64(ActiveDuration(s, now) / time.Second)

	t := Timing{ElapsedSeconds: elapsed}
	switch s.Type {
	case TypeTimeBoxed:
		var planned int64
		if s.PlannedDurationSeconds != nil {
			planned = *s.PlannedDurationSeconds
		}
		remaining := max(planned-elapsed, 0)
		t.RemainingSeconds = &remaining
	case TypeOpen:
		t.CapExceeded = capSeconds > 0 && elapsed >= capSeconds
	}
	return t
}

// ActiveDuration is (end - startedAt) minus the paused time, where end is
// EndedAt for terminal sessions and now otherwise. An open pause counts up to end.
func ActiveDuration(s *Session, now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}

	var paused time.Duration
	for _, p := range s.PauseIntervals {
		pEnd := end
		if p.ResumedAt != nil && p.ResumedAt.Before(end) {
			pEnd = *p.ResumedAt
		}
		if pEnd.After(p.PausedAt) {
			paused += pEnd.Sub(p.PausedAt)
		}
	}

	active := end.Sub(s.StartedAt) - paused
	if active < 0 {
		return 0
	}
	return active
}

// Limit returns the active-time budget after which the session must
// complete: the planned duration for time-boxed sessions, the cap for open ones.
func Limit(s *Session, capSeconds int64) (time.Duration, bool) {
	switch s.Type {
	case TypeTimeBoxed:
		if s.PlannedDurationSeconds == nil {
			return 0, false
		}
		return time.Duration(*s.PlannedDurationSeconds) * time.Second, true
	case TypeOpen:
		if capSeconds <= 0 {
			return 0, false
		}
		return time.Duration(capSeconds) * time.Second, true
	}
	return 0, false
}

// LimitReachedAt walks the session timeline and returns the instant at which
// active time reached limit. ok is false if the limit has not been reached
// by the recorded spans (the session is still within budget or is paused
// before reaching it).
func LimitReachedAt(s *Session, limit time.Duration, now time.Time) (time.Time, bool) {
	budget := limit
	cursor := s.StartedAt
	for _, p := range s.PauseIntervals {
		if segment := p.PausedAt.Sub(cursor); segment >= budget {
			return cursor.Add(budget), true
		} else if segment > 0 {
			budget -= segment
		}
		if p.ResumedAt == nil {
			return time.Time{}, false
		}
		cursor = *p.ResumedAt
	}
	if now.Sub(cursor) >= budget {
		return cursor.Add(budget), true
	}
	return time.Time{}, false
}
