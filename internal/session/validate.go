package session

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/stint/internal/errors"
)

// Field limits
const (
	MaxGoalChars  = 500
	MaxNotesChars = 20000
	MaxTags       = 20
	MaxTagChars   = 32
	MinRating     = 1
	MaxRating     = 5
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeTag trims, lowercases and collapses internal whitespace.
func NormalizeTag(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// NormalizeTags normalizes each tag, drops blanks and duplicates, and keeps
// first-seen order for display.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = NormalizeTag(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ValidateType checks the type/planned-duration pairing.
func ValidateType(t Type, planned *int64) error {
	switch t {
	case TypeTimeBoxed:
		if planned == nil {
			return errors.NewInvalidRequest("plannedDurationSeconds is required for time-boxed sessions")
		}
		if *planned <= 0 {
			return errors.NewInvalidRequest("plannedDurationSeconds must be positive")
		}
	case TypeOpen:
		if planned != nil {
			return errors.NewInvalidRequest("plannedDurationSeconds must be absent for open sessions")
		}
	default:
		return errors.NewInvalidRequest(fmt.Sprintf("sessionType must be one of: %s, %s", TypeTimeBoxed, TypeOpen))
	}
	return nil
}

// ValidateTags checks tag count and length (after normalization).
func ValidateTags(tags []string) error {
	if len(tags) > MaxTags {
		return errors.NewInvalidRequest(fmt.Sprintf("at most %d tags allowed", MaxTags))
	}
	for _, t := range tags {
		if utf8.RuneCountInString(t) > MaxTagChars {
			return errors.NewInvalidRequest(fmt.Sprintf("tag %q exceeds %d characters", t, MaxTagChars))
		}
	}
	return nil
}

// ValidateCompletion checks the optional rating and notes attached by stop.
func ValidateCompletion(rating *int, notes *string) error {
	if rating != nil && (*rating < MinRating || *rating > MaxRating) {
		return errors.NewInvalidRequest(fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating))
	}
	if notes != nil && utf8.RuneCountInString(*notes) > MaxNotesChars {
		return errors.NewInvalidRequest(fmt.Sprintf("notes exceed %d characters", MaxNotesChars))
	}
	return nil
}

// Validate checks every record-level invariant of a session. It is applied to
// records read back from a store and to records accepted by the server.
func Validate(s *Session) error {
	if s == nil {
		return errors.NewInvalidRequest("session is required")
	}
	if strings.TrimSpace(s.ID) == "" {
		return errors.NewInvalidRequest("id is required")
	}
	if utf8.RuneCountInString(s.Goal) > MaxGoalChars {
		return errors.NewInvalidRequest(fmt.Sprintf("goal exceeds %d characters", MaxGoalChars))
	}
	if err := ValidateType(s.Type, s.PlannedDurationSeconds); err != nil {
		return err
	}
	if err := ValidateTags(s.Tags); err != nil {
		return err
	}

	switch s.Status {
	case StatusActive, StatusPaused, StatusCompleted, StatusDiscarded:
	default:
		return errors.NewInvalidRequest(fmt.Sprintf("unknown status %q", s.Status))
	}

	if s.StartedAt.IsZero() {
		return errors.NewInvalidRequest("startedAt is required")
	}
	if s.Version < 0 {
		return errors.NewInvalidRequest("version must not be negative")
	}

	// endedAt iff terminal
	if s.IsTerminal() != (s.EndedAt != nil) {
		return errors.NewInvalidRequest("endedAt must be set exactly when status is completed or discarded")
	}
	if s.EndedAt != nil && s.EndedAt.Before(s.StartedAt) {
		return errors.NewInvalidRequest("endedAt is before startedAt")
	}

	if err := validatePauses(s); err != nil {
		return err
	}

	if s.Status != StatusCompleted && (s.Rating != nil || s.Notes != nil) {
		return errors.NewInvalidRequest("rating and notes are only allowed on completed sessions")
	}
	return ValidateCompletion(s.Rating, s.Notes)
}

// validatePauses checks that pause intervals are ordered, non-overlapping,
// inside the session span, and that only a paused session has an open one.
func validatePauses(s *Session) error {
	cursor := s.StartedAt
	for i, p := range s.PauseIntervals {
		if p.PausedAt.Before(cursor) {
			return errors.NewInvalidRequest(fmt.Sprintf("pause interval %d overlaps or precedes the previous span", i))
		}
		if p.ResumedAt == nil {
			if i != len(s.PauseIntervals)-1 {
				return errors.NewInvalidRequest(fmt.Sprintf("pause interval %d is open but not last", i))
			}
			cursor = p.PausedAt
			continue
		}
		if p.ResumedAt.Before(p.PausedAt) {
			return errors.NewInvalidRequest(fmt.Sprintf("pause interval %d resumes before it pauses", i))
		}
		cursor = *p.ResumedAt
	}

	open := s.OpenPause() != nil
	if s.Status == StatusPaused && !open {
		return errors.NewInvalidRequest("paused session has no open pause interval")
	}
	if s.Status != StatusPaused && open {
		return errors.NewInvalidRequest(fmt.Sprintf("%s session has an open pause interval", s.Status))
	}
	if s.EndedAt != nil && s.EndedAt.Before(cursor) {
		return errors.NewInvalidRequest("endedAt precedes the last pause interval")
	}
	return nil
}
