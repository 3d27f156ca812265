package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/hpungsan/stint/internal/db"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/localstore"
	"github.com/hpungsan/stint/internal/session"
	"github.com/stretchr/testify/require"
)

func newOutbox(t *testing.T) *Outbox {
	t.Helper()
	conn, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewOutbox(localstore.New(conn, "stint", nil))
}

func TestOutbox_RecordAndSettle(t *testing.T) {
	o := newOutbox(t)

	require.NoError(t, o.Record(snap("a", 1)))
	require.NoError(t, o.Record(snap("a", 2)))
	require.NoError(t, o.Record(snap("a", 1)), "older snapshot is ignored")
	require.NoError(t, o.Record(snap("b", 1)))

	pending, err := o.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "a", pending[0].ID)
	require.Equal(t, int64(2), pending[0].Version)

	// settling an older version keeps the newer entry
	require.NoError(t, o.Settle(snap("a", 1)))
	pending, err = o.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, o.Settle(snap("a", 2)))
	pending, err = o.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "b", pending[0].ID)
}

func TestOutbox_MirrorsLiveSession(t *testing.T) {
	o := newOutbox(t)

	live := snap("a", 1)
	require.NoError(t, o.Record(live))
	saved := live.Clone()
	saved.RemoteID = "uuid-a"
	require.NoError(t, o.Settle(saved))

	// settled entries leave the outbox but the mirror keeps the live session
	snaps, err := o.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, "uuid-a", snaps[0].RemoteID)

	paused := snap("a", 2)
	paused.Status = session.StatusPaused
	require.NoError(t, o.Record(paused))
	snaps, err = o.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, session.StatusPaused, snaps[0].Status)

	done := snap("a", 3)
	done.Status = session.StatusCompleted
	end := done.StartedAt.Add(time.Hour)
	done.EndedAt = &end
	require.NoError(t, o.Record(done))
	require.NoError(t, o.Settle(done))

	snaps, err = o.Snapshots()
	require.NoError(t, err)
	require.Empty(t, snaps)
}

func TestOutbox_Remember(t *testing.T) {
	o := newOutbox(t)

	require.NoError(t, o.Remember(snap("a", 4)))
	snaps, err := o.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	require.NoError(t, o.Remember(nil))
	snaps, err = o.Snapshots()
	require.NoError(t, err)
	require.Empty(t, snaps)
}

func TestOutbox_UnavailableStore(t *testing.T) {
	o := NewOutbox(localstore.New(nil, "stint", nil))
	require.True(t, errors.Is(o.Record(snap("a", 1)), errors.ErrPersistence))
	_, err := o.Snapshots()
	require.True(t, errors.Is(err, errors.ErrPersistence))
}

func TestWriter_JournalReplaysAcrossWriters(t *testing.T) {
	o := newOutbox(t)

	down := newFakeSaver()
	down.failN["a"] = 100
	opts := fastOpts()
	opts.Journal = o
	w := NewWriter(down, opts)
	w.Enqueue(snap("a", 2))
	require.NoError(t, w.Flush(context.Background()))

	err := w.Close(context.Background())
	require.True(t, errors.Is(err, errors.ErrPersistence), "close reports the unsaved snapshot")

	pending, err := o.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// a later writer replays the outbox once the backend is back
	up := newFakeSaver()
	w = NewWriter(up, opts)
	for _, s := range pending {
		w.Enqueue(s)
	}
	require.NoError(t, w.Close(context.Background()))
	require.Equal(t, int64(2), up.saved["a"].Version)

	pending, err = o.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestWriter_JournalDropsRejectedSnapshots(t *testing.T) {
	o := newOutbox(t)

	saver := newFakeSaver()
	saver.failN["a"] = 100
	saver.failErr = errors.NewInvalidRequest("bad record")
	opts := fastOpts()
	opts.Journal = o
	w := NewWriter(saver, opts)
	w.Enqueue(snap("a", 1))
	require.NoError(t, w.Flush(context.Background()))
	require.Error(t, w.Close(context.Background()))

	pending, err := o.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)
}
