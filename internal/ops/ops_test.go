package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/stint/internal/app"
	"github.com/hpungsan/stint/internal/config"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/server"
	"github.com/hpungsan/stint/internal/session"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openApp(t *testing.T, dir string, clk *clock) *app.App {
	t.Helper()
	a, err := app.Open(context.Background(), app.Options{BaseDir: dir, Now: clk.Now})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func closeApp(t *testing.T, a *app.App) {
	t.Helper()
	require.NoError(t, a.Close(context.Background()))
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestLifecycle_GuestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	clk := &clock{now: t0}
	a := openApp(t, dir, clk)
	ctx := context.Background()

	started, err := Start(ctx, a, StartInput{Goal: "Write report", PlannedDurationSeconds: int64Ptr(1500), Tags: []string{" Deep Work ", "deep work"}})
	require.NoError(t, err)
	require.Equal(t, session.TypeTimeBoxed, started.Session.Type)
	require.Equal(t, []string{"deep work"}, started.Session.Tags)

	clk.Advance(5 * time.Minute)
	_, err = Pause(ctx, a)
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	_, err = Resume(ctx, a)
	require.NoError(t, err)
	clk.Advance(5 * time.Minute)

	st, err := Status(ctx, a)
	require.NoError(t, err)
	require.Equal(t, "active", st.Status)
	require.Equal(t, config.ModeGuest, st.Mode)
	require.Equal(t, int64(600), st.Session.ElapsedSeconds)
	require.Equal(t, int64(900), *st.Session.RemainingSeconds)

	stopped, err := Stop(ctx, a, StopInput{Rating: intPtr(4), Notes: strPtr("- went well")})
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, stopped.Session.Status)
	require.Equal(t, "10m00s", stopped.Session.Elapsed)

	st, err = Status(ctx, a)
	require.NoError(t, err)
	require.Equal(t, session.StatusNone, st.Status)
	require.Nil(t, st.Session)

	closeApp(t, a)

	// survives a restart
	a = openApp(t, dir, clk)
	list, err := List(ctx, a, ListInput{})
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	require.Equal(t, 4, *list.Sessions[0].Rating)
	require.Equal(t, int64(600), list.Sessions[0].ElapsedSeconds)
}

func TestStart_ConflictLeavesLiveSessionUntouched(t *testing.T) {
	clk := &clock{now: t0}
	a := openApp(t, t.TempDir(), clk)
	ctx := context.Background()

	first, err := Start(ctx, a, StartInput{Goal: "first"})
	require.NoError(t, err)

	_, err = Start(ctx, a, StartInput{Goal: "second"})
	require.True(t, errors.Is(err, errors.ErrConflict))
	se, _ := errors.As(err)
	require.Equal(t, first.Session.ID, se.Details["current_id"])

	st, err := Status(ctx, a)
	require.NoError(t, err)
	require.Equal(t, first.Session.ID, st.Session.ID)
}

func TestTransitions_InvalidState(t *testing.T) {
	clk := &clock{now: t0}
	a := openApp(t, t.TempDir(), clk)
	ctx := context.Background()

	_, err := Pause(ctx, a)
	require.True(t, errors.Is(err, errors.ErrInvalidState))
	_, err = Stop(ctx, a, StopInput{})
	require.True(t, errors.Is(err, errors.ErrInvalidState))

	_, err = Start(ctx, a, StartInput{})
	require.NoError(t, err)
	_, err = Resume(ctx, a)
	require.True(t, errors.Is(err, errors.ErrInvalidState))

	_, err = Discard(ctx, a)
	require.NoError(t, err)
	_, err = Discard(ctx, a)
	require.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestStart_Validation(t *testing.T) {
	clk := &clock{now: t0}
	a := openApp(t, t.TempDir(), clk)
	ctx := context.Background()

	tests := []struct {
		name  string
		input StartInput
	}{
		{"time-boxed without duration", StartInput{Type: "time-boxed"}},
		{"open with duration", StartInput{Type: "open", PlannedDurationSeconds: int64Ptr(60)}},
		{"zero duration", StartInput{PlannedDurationSeconds: int64Ptr(0)}},
		{"unknown type", StartInput{Type: "pomodoro"}},
		{"goal too long", StartInput{Goal: strings.Repeat("x", session.MaxGoalChars+1)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Start(ctx, a, tc.input)
			require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestRestore_CompletesExpiredTimer(t *testing.T) {
	dir := t.TempDir()
	clk := &clock{now: t0}
	a := openApp(t, dir, clk)
	ctx := context.Background()

	_, err := Start(ctx, a, StartInput{PlannedDurationSeconds: int64Ptr(60)})
	require.NoError(t, err)
	closeApp(t, a)

	clk.Advance(10 * time.Minute)
	a = openApp(t, dir, clk)

	st, err := Status(ctx, a)
	require.NoError(t, err)
	require.Equal(t, session.StatusNone, st.Status)

	list, err := List(ctx, a, ListInput{})
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)
	s := list.Sessions[0]
	require.Equal(t, session.StatusCompleted, s.Status)
	require.Equal(t, int64(60), s.ElapsedSeconds)
	require.True(t, s.EndedAt.Equal(t0.Add(time.Minute)))
}

func TestList_RangeTagAndLimit(t *testing.T) {
	clk := &clock{now: t0}
	a := openApp(t, t.TempDir(), clk)
	ctx := context.Background()

	for i, tag := range []string{"work", "study", "work"} {
		_, err := Start(ctx, a, StartInput{Goal: tag, Tags: []string{tag}})
		require.NoError(t, err)
		clk.Advance(10 * time.Minute)
		_, err = Stop(ctx, a, StopInput{})
		require.NoError(t, err)
		clk.Advance(time.Duration(i+1) * 24 * time.Hour)
	}

	all, err := List(ctx, a, ListInput{})
	require.NoError(t, err)
	require.Equal(t, 3, all.Count)
	require.True(t, all.Sessions[0].StartedAt.After(all.Sessions[1].StartedAt))

	work, err := List(ctx, a, ListInput{Tag: "WORK"})
	require.NoError(t, err)
	require.Equal(t, 2, work.Count)

	limited, err := List(ctx, a, ListInput{Tag: "work", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 1, limited.Count)

	window, err := List(ctx, a, ListInput{From: "2026-03-03", To: "2026-03-04T23:59:59Z"})
	require.NoError(t, err)
	require.Equal(t, 1, window.Count)
	require.Equal(t, "study", window.Sessions[0].Goal)

	_, err = List(ctx, a, ListInput{From: "2026-03-04", To: "2026-03-01"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestParseTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-01T08:00:00Z", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
		{"2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-03-01 14:30", time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		got, err := ParseTime(tc.in, now)
		require.NoError(t, err, tc.in)
		require.True(t, got.Equal(tc.want), "%s: got %v", tc.in, got)
	}

	got, err := ParseTime("yesterday", now)
	require.NoError(t, err)
	require.Equal(t, 9, got.Day())

	got, err = ParseTime("", now)
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = ParseTime("gibberish", now)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestFormatDuration(t *testing.T) {
	tests := map[int64]string{0: "0s", 42: "42s", 1500: "25m00s", 3909: "1h05m09s", -5: "0s"}
	for in, want := range tests {
		require.Equal(t, want, FormatDuration(in))
	}
}

func TestNotesAndTasks_Guest(t *testing.T) {
	clk := &clock{now: t0}
	a := openApp(t, t.TempDir(), clk)
	ctx := context.Background()

	_, err := AddNote(ctx, a, AddNoteInput{Title: "  "})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	n, err := AddNote(ctx, a, AddNoteInput{Title: "Retro", Body: "**good** week"})
	require.NoError(t, err)
	require.Equal(t, "Retro", n.Note.Title)

	task, err := AddTask(ctx, a, AddTaskInput{Title: "ship"})
	require.NoError(t, err)
	_, err = AddTask(ctx, a, AddTaskInput{Title: "review"})
	require.NoError(t, err)

	done, err := SetTaskDone(ctx, a, SetTaskDoneInput{ID: task.Task.ID, Done: true})
	require.NoError(t, err)
	require.True(t, done.Task.Done)
	require.NotNil(t, done.Task.CompletedAt)

	_, err = SetTaskDone(ctx, a, SetTaskDoneInput{ID: "missing", Done: true})
	require.True(t, errors.Is(err, errors.ErrNotFound))

	notes, err := ListNotes(ctx, a)
	require.NoError(t, err)
	require.Equal(t, 1, notes.Count)

	tasks, err := ListTasks(ctx, a)
	require.NoError(t, err)
	require.Equal(t, 2, tasks.Count)
	require.Equal(t, 1, tasks.Open)
}

func TestExport_JSONLAndHTML(t *testing.T) {
	clk := &clock{now: t0}
	a := openApp(t, t.TempDir(), clk)
	ctx := context.Background()
	exportDir := t.TempDir()
	a.Config.AllowedPaths = []string{exportDir}

	_, err := Start(ctx, a, StartInput{Goal: "deep work", Tags: []string{"focus"}})
	require.NoError(t, err)
	clk.Advance(30 * time.Minute)
	_, err = Stop(ctx, a, StopInput{Rating: intPtr(5), Notes: strPtr("# Done\n\n*all* tests green")})
	require.NoError(t, err)
	_, err = AddNote(ctx, a, AddNoteInput{Title: "Ideas", Body: "- one\n- two"})
	require.NoError(t, err)
	_, err = AddTask(ctx, a, AddTaskInput{Title: "follow up"})
	require.NoError(t, err)

	jsonlPath := filepath.Join(exportDir, "out.jsonl")
	out, err := Export(ctx, a, ExportInput{Path: jsonlPath})
	require.NoError(t, err)
	require.Equal(t, 1, out.Sessions)
	require.Equal(t, 1, out.Notes)
	require.Equal(t, 1, out.Tasks)

	f, err := os.Open(jsonlPath)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var header ExportHeader
	require.NoError(t, json.Unmarshal(sc.Bytes(), &header))
	require.True(t, header.StintExport)
	require.Equal(t, "guest", header.Mode)

	kinds := []string{}
	for sc.Scan() {
		var rec ExportRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		kinds = append(kinds, rec.Kind)
	}
	require.Equal(t, []string{"session", "note", "task"}, kinds)

	htmlPath := filepath.Join(exportDir, "out.html")
	_, err = Export(ctx, a, ExportInput{Path: htmlPath, Format: FormatHTML})
	require.NoError(t, err)
	body, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	require.Contains(t, string(body), "<h1>Done</h1>")
	require.Contains(t, string(body), "<em>all</em>")
	require.Contains(t, string(body), "<li>one</li>")
	require.Contains(t, string(body), "30m00s")

	// no temp files left behind
	entries, err := os.ReadDir(exportDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	_, err = Export(ctx, a, ExportInput{Path: htmlPath, Format: "pdf"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = Export(ctx, a, ExportInput{Path: filepath.Join(exportDir, "x.html"), Format: FormatJSONL})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestLogin_MigratesGuestDataAndSwitches(t *testing.T) {
	repo, err := server.OpenSQLite(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()
	auth := server.NewJWTAuth("secret")
	ts := httptest.NewServer(server.New(repo, nil, auth, log.New(io.Discard, "", 0)).Routes())
	defer ts.Close()
	token, err := auth.MintToken("user-1", time.Hour)
	require.NoError(t, err)

	dir := t.TempDir()
	clk := &clock{now: t0}
	a := openApp(t, dir, clk)
	ctx := context.Background()

	// one completed and one live guest session, plus a note
	_, err = Start(ctx, a, StartInput{Goal: "before login"})
	require.NoError(t, err)
	clk.Advance(20 * time.Minute)
	_, err = Stop(ctx, a, StopInput{})
	require.NoError(t, err)
	live, err := Start(ctx, a, StartInput{Goal: "spans login", PlannedDurationSeconds: int64Ptr(3600)})
	require.NoError(t, err)
	_, err = AddNote(ctx, a, AddNoteInput{Title: "n"})
	require.NoError(t, err)

	_, err = Logout(ctx, a)
	require.True(t, errors.Is(err, errors.ErrInvalidState), "logout refused while live")

	login, err := Login(ctx, a, LoginInput{Server: ts.URL + "/", Token: token})
	require.NoError(t, err)
	require.Equal(t, config.ModeAccount, login.Mode)
	require.Equal(t, ts.URL, login.Server)
	require.Equal(t, 2, login.Migration.Sessions)
	require.Equal(t, 1, login.Migration.Notes)
	require.True(t, login.Migration.Cleared)

	// the live session keeps running against the account
	clk.Advance(10 * time.Minute)
	_, err = Pause(ctx, a)
	require.NoError(t, err)
	closeApp(t, a)

	a = openApp(t, dir, clk)
	st, err := Status(ctx, a)
	require.NoError(t, err)
	require.Equal(t, config.ModeAccount, st.Mode)
	require.Equal(t, live.Session.ID, st.Session.ID)
	require.Equal(t, session.StatusPaused, st.Session.Status)
	require.NotEmpty(t, st.Session.RemoteID)

	list, err := List(ctx, a, ListInput{})
	require.NoError(t, err)
	require.Equal(t, 2, list.Count)

	notes, err := ListNotes(ctx, a)
	require.NoError(t, err)
	require.Equal(t, 1, notes.Count)

	// rerunning migration is a no-op
	again, err := Migrate(ctx, a)
	require.NoError(t, err)
	require.Equal(t, "already_migrated", again.Skipped)

	_, err = SetTaskDone(ctx, a, SetTaskDoneInput{ID: "x", Done: true})
	require.True(t, errors.Is(err, errors.ErrInvalidState))

	_, err = Discard(ctx, a)
	require.NoError(t, err)
	out, err := Logout(ctx, a)
	require.NoError(t, err)
	require.Equal(t, config.ModeGuest, out.Mode)
}

func TestLogin_Validation(t *testing.T) {
	clk := &clock{now: t0}
	a := openApp(t, t.TempDir(), clk)
	ctx := context.Background()

	_, err := Login(ctx, a, LoginInput{Server: "", Token: "t"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = Login(ctx, a, LoginInput{Server: "http://127.0.0.1:1", Token: ""})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = Migrate(ctx, a)
	require.True(t, errors.Is(err, errors.ErrUnauthorized))
	require.Equal(t, config.ModeGuest, a.Mode())
}
