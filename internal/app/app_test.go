package app

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/stint/internal/config"
	"github.com/hpungsan/stint/internal/controller"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/remote"
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

// outage answers 503 for the selected methods (all when empty) while down.
type outage struct {
	next    http.Handler
	down    atomic.Bool
	methods map[string]bool
}

func (o *outage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if o.down.Load() && (len(o.methods) == 0 || o.methods[r.Method]) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
		return
	}
	o.next.ServeHTTP(w, r)
}

type account struct {
	api    *outage
	url    string
	token  string
	client *remote.Client
}

func newAccount(t *testing.T) *account {
	t.Helper()
	repo, err := server.OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	auth := server.NewJWTAuth("secret")
	api := &outage{next: server.New(repo, nil, auth, log.New(io.Discard, "", 0)).Routes()}
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)

	token, err := auth.MintToken("user-1", time.Hour)
	require.NoError(t, err)
	return &account{api: api, url: ts.URL, token: token, client: remote.New(ts.URL, token, nil)}
}

// accountDir returns a base dir configured for acct with fast retries.
func accountDir(t *testing.T, acct *account) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, config.Update(dir, func(c *config.Config) {
		c.RemoteURL = acct.url
		c.AuthToken = acct.token
		c.RetryMaxAttempts = 2
		c.RetryBaseDelayMS = 1
	}))
	return dir
}

func open(t *testing.T, dir string, clk *clock) *App {
	t.Helper()
	a, err := Open(context.Background(), Options{BaseDir: dir, Now: clk.Now})
	require.NoError(t, err)
	return a
}

func (acct *account) stored(t *testing.T, id string) *session.Session {
	t.Helper()
	all, err := acct.client.ListSessions(context.Background(), session.Filter{})
	require.NoError(t, err)
	for _, s := range all {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("session %s not stored", id)
	return nil
}

func TestOpen_TransitionDuringOutageIsReplayed(t *testing.T) {
	acct := newAccount(t)
	dir := accountDir(t, acct)
	clk := &clock{now: t0}

	a := open(t, dir, clk)
	require.Equal(t, config.ModeAccount, a.Mode())
	started, err := a.Controller.Start(controller.StartInput{Goal: "deep work"})
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))

	// writes fail while the API is down; the pause is still accepted
	acct.api.methods = map[string]bool{http.MethodPatch: true}
	acct.api.down.Store(true)
	clk.Advance(5 * time.Minute)
	a = open(t, dir, clk)
	var warnings int
	unsubscribe := a.Controller.Subscribe(func(ev controller.Event) {
		if ev.Type == controller.EventWarning {
			warnings++
		}
	})
	paused, err := a.Controller.Pause()
	require.NoError(t, err)
	require.Equal(t, session.StatusPaused, paused.Status)

	err = a.Close(context.Background())
	require.True(t, errors.Is(err, errors.ErrPersistence), "close reports the unsaved pause")
	unsubscribe()
	require.Positive(t, warnings)
	require.Equal(t, session.StatusActive, acct.stored(t, started.ID).Status)

	// the next run restores the pause and delivers it
	acct.api.down.Store(false)
	a = open(t, dir, clk)
	cur, _, ok := a.Controller.Current()
	require.True(t, ok)
	require.Equal(t, session.StatusPaused, cur.Status)
	require.Len(t, cur.PauseIntervals, 1)
	require.NoError(t, a.Close(context.Background()))

	stored := acct.stored(t, started.ID)
	require.Equal(t, session.StatusPaused, stored.Status)
	require.Equal(t, paused.Version, stored.Version)
}

func TestOpen_RestoreDuringOutageUsesDeviceMirror(t *testing.T) {
	acct := newAccount(t)
	dir := accountDir(t, acct)
	clk := &clock{now: t0}

	a := open(t, dir, clk)
	started, err := a.Controller.Start(controller.StartInput{Goal: "one at a time"})
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))

	acct.api.down.Store(true)
	clk.Advance(time.Minute)
	a = open(t, dir, clk)
	cur, _, ok := a.Controller.Current()
	require.True(t, ok)
	require.Equal(t, started.ID, cur.ID)

	_, err = a.Controller.Start(controller.StartInput{Goal: "second"})
	require.True(t, errors.Is(err, errors.ErrConflict))
	require.NoError(t, a.Close(context.Background()))
}

func TestOpen_RestoreDuringOutageWithoutMirrorRefusesStart(t *testing.T) {
	acct := newAccount(t)
	clk := &clock{now: t0.Add(time.Minute)}

	// a session started on another device
	other := &session.Session{
		ID:             "01HOTHERDEVICE0000000000AA",
		Type:           session.TypeOpen,
		Status:         session.StatusActive,
		StartedAt:      t0,
		Tags:           []string{},
		PauseIntervals: []session.PauseInterval{},
		Version:        1,
	}
	_, _, err := acct.client.CreateSession(context.Background(), other)
	require.NoError(t, err)

	acct.api.down.Store(true)
	a := open(t, accountDir(t, acct), clk)
	defer a.Close(context.Background())

	require.False(t, a.Controller.Restored())
	_, err = a.Controller.Start(controller.StartInput{Goal: "blind"})
	require.True(t, errors.Is(err, errors.ErrPersistence))

	// once the API answers, restore picks up the other device's session
	acct.api.down.Store(false)
	cur, err := a.Controller.Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, other.ID, cur.ID)

	_, err = a.Controller.Start(controller.StartInput{Goal: "second"})
	require.True(t, errors.Is(err, errors.ErrConflict))
}

func TestOpen_GuestMirrorFollowsLifecycle(t *testing.T) {
	clk := &clock{now: t0}
	dir := t.TempDir()

	a := open(t, dir, clk)
	s, err := a.Controller.Start(controller.StartInput{Goal: "local"})
	require.NoError(t, err)
	require.NoError(t, a.Writer.Flush(context.Background()))

	snaps, err := a.Outbox.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, s.ID, snaps[0].ID)

	_, err = a.Controller.Stop(controller.StopInput{})
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))

	a = open(t, dir, clk)
	defer a.Close(context.Background())
	snaps, err = a.Outbox.Snapshots()
	require.NoError(t, err)
	require.Empty(t, snaps)
	_, _, live := a.Controller.Current()
	require.False(t, live)
}
