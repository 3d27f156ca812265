package session

import (
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/stint/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTag(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Deep Work", "deep work"},
		{"  reading  ", "reading"},
		{"a   b\t\nc", "a b c"},
		{"", ""},
		{"   ", ""},
		{"ÉTUDE", "étude"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeTag(tt.input); got != tt.want {
				t.Errorf("NormalizeTag(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeTags_DedupesKeepsOrder(t *testing.T) {
	got := NormalizeTags([]string{"Go", "  reading", "go", "", "Reading "})
	require.Equal(t, []string{"go", "reading"}, got)

	require.Empty(t, NormalizeTags(nil))
}

func TestValidateType(t *testing.T) {
	require.NoError(t, ValidateType(TypeTimeBoxed, ptrInt64(60)))
	require.NoError(t, ValidateType(TypeOpen, nil))

	require.True(t, errors.Is(ValidateType(TypeTimeBoxed, nil), errors.ErrInvalidRequest))
	require.True(t, errors.Is(ValidateType(TypeTimeBoxed, ptrInt64(0)), errors.ErrInvalidRequest))
	require.True(t, errors.Is(ValidateType(TypeOpen, ptrInt64(60)), errors.ErrInvalidRequest))
	require.True(t, errors.Is(ValidateType("pomodoro", nil), errors.ErrInvalidRequest))
}

func TestValidateCompletion(t *testing.T) {
	for _, r := range []int{1, 3, 5} {
		require.NoError(t, ValidateCompletion(&r, nil))
	}
	for _, r := range []int{0, 6, -1} {
		require.Error(t, ValidateCompletion(&r, nil))
	}

	long := strings.Repeat("x", MaxNotesChars+1)
	require.Error(t, ValidateCompletion(nil, &long))
}

func TestValidateTags(t *testing.T) {
	require.NoError(t, ValidateTags([]string{"a", "b"}))
	require.Error(t, ValidateTags([]string{strings.Repeat("t", MaxTagChars+1)}))

	many := make([]string, MaxTags+1)
	for i := range many {
		many[i] = string(rune('a' + i))
	}
	require.Error(t, ValidateTags(many))
}

func TestValidate(t *testing.T) {
	rating := 4
	notes := "went well"

	tests := []struct {
		name    string
		mutate  func(s *Session)
		wantErr bool
	}{
		{"valid active", func(s *Session) {}, false},
		{"valid paused", func(s *Session) {
			s.Status = StatusPaused
			s.PauseIntervals = []PauseInterval{{PausedAt: at(10)}}
		}, false},
		{"valid completed", func(s *Session) {
			s.Status = StatusCompleted
			s.EndedAt = ptrTime(at(100))
			s.Rating = &rating
			s.Notes = &notes
		}, false},
		{"missing id", func(s *Session) { s.ID = "" }, true},
		{"zero start", func(s *Session) { s.StartedAt = time.Time{} }, true},
		{"unknown status", func(s *Session) { s.Status = "running" }, true},
		{"active with endedAt", func(s *Session) { s.EndedAt = ptrTime(at(5)) }, true},
		{"completed without endedAt", func(s *Session) { s.Status = StatusCompleted }, true},
		{"ended before start", func(s *Session) {
			s.Status = StatusDiscarded
			s.EndedAt = ptrTime(at(-5))
		}, true},
		{"paused without open interval", func(s *Session) { s.Status = StatusPaused }, true},
		{"active with open interval", func(s *Session) {
			s.PauseIntervals = []PauseInterval{{PausedAt: at(10)}}
		}, true},
		{"overlapping intervals", func(s *Session) {
			s.PauseIntervals = []PauseInterval{
				{PausedAt: at(10), ResumedAt: ptrTime(at(50))},
				{PausedAt: at(40), ResumedAt: ptrTime(at(60))},
			}
		}, true},
		{"resume before pause", func(s *Session) {
			s.PauseIntervals = []PauseInterval{{PausedAt: at(10), ResumedAt: ptrTime(at(5))}}
		}, true},
		{"open interval not last", func(s *Session) {
			s.Status = StatusPaused
			s.PauseIntervals = []PauseInterval{
				{PausedAt: at(10)},
				{PausedAt: at(20)},
			}
		}, true},
		{"rating on discarded", func(s *Session) {
			s.Status = StatusDiscarded
			s.EndedAt = ptrTime(at(100))
			s.Rating = &rating
		}, true},
		{"planned on open", func(s *Session) { s.Type = TypeOpen }, true},
		{"negative version", func(s *Session) { s.Version = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := timeBoxed(1500)
			tt.mutate(s)
			err := Validate(s)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, errors.ErrInvalidRequest))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFilterApply(t *testing.T) {
	mk := func(id string, sec int) *Session {
		s := openSession()
		s.ID = id
		s.StartedAt = at(sec)
		return s
	}
	all := []*Session{mk("a", 10), mk("b", 30), mk("c", 20), mk("d", 40)}

	got := Filter{}.Apply(all)
	require.Equal(t, []string{"d", "b", "c", "a"}, ids(got))

	got = Filter{From: ptrTime(at(20)), To: ptrTime(at(30))}.Apply(all)
	require.Equal(t, []string{"b", "c"}, ids(got))

	got = Filter{Limit: 2}.Apply(all)
	require.Equal(t, []string{"d", "b"}, ids(got))

	// input untouched
	require.Equal(t, []string{"a", "b", "c", "d"}, ids(all))
}

func TestClone_IsDeep(t *testing.T) {
	s := timeBoxed(1500)
	s.Tags = []string{"go"}
	s.Status = StatusPaused
	s.PauseIntervals = []PauseInterval{{PausedAt: at(5), ResumedAt: ptrTime(at(6))}, {PausedAt: at(7)}}

	c := s.Clone()
	require.Equal(t, s, c)

	c.Tags[0] = "changed"
	*c.PlannedDurationSeconds = 1
	*c.PauseIntervals[0].ResumedAt = at(99)
	require.Equal(t, "go", s.Tags[0])
	require.Equal(t, int64(1500), *s.PlannedDurationSeconds)
	require.True(t, s.PauseIntervals[0].ResumedAt.Equal(at(6)))
}

func ids(ss []*Session) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.ID
	}
	return out
}
