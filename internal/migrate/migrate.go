// Package migrate transfers guest records into an account exactly once.
package migrate

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/guest"
	"github.com/hpungsan/stint/internal/localstore"
	"github.com/hpungsan/stint/internal/session"
)

// Skip reasons
const (
	SkippedAlreadyMigrated = "already_migrated"
	SkippedNoGuestData     = "no_guest_data"
)

// Remote is the subset of the API client the engine writes through.
// Every create is keyed by the record's client id.
type Remote interface {
	CreateSession(ctx context.Context, s *session.Session) (*session.Session, bool, error)
	UpdateSession(ctx context.Context, remoteID string, s *session.Session) (*session.Session, error)
	CreateNote(ctx context.Context, n guest.Note) (guest.Note, error)
	CreateTask(ctx context.Context, t guest.Task) (guest.Task, error)
}

// Options configures an Engine.
type Options struct {
	// RetainGuestData keeps local sessions/notes/tasks after success.
	RetainGuestData bool
	Now             func() time.Time
	Logger          *log.Logger
}

// Result summarizes one run.
type Result struct {
	Skipped    string     `json:"skipped,omitempty"`
	Sessions   int        `json:"sessions"`
	Notes      int        `json:"notes"`
	Tasks      int        `json:"tasks"`
	MigratedAt *time.Time `json:"migrated_at,omitempty"`
	Cleared    bool       `json:"cleared"`
}

// Engine drains the guest store into the remote account.
type Engine struct {
	repo   *guest.Repo
	remote Remote
	opts   Options
}

// New returns an Engine.
func New(repo *guest.Repo, remote Remote, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Engine{repo: repo, remote: remote, opts: opts}
}

// Run performs the migration. GuestMeta.migratedAt is the only guard: it is
// set after every item succeeded, and a set guard makes Run a no-op. On any
// item failure nothing is marked or cleared and a MIGRATION error lists the
// failed client ids; rerunning re-sends every item under the same keys.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	meta := e.repo.Meta()
	switch meta.State {
	case localstore.Unavailable:
		return nil, errors.NewPersistence("local store", nil)
	case localstore.Missing:
		if _, err := e.repo.EnsureMeta(); err != nil {
			return nil, err
		}
		return &Result{Skipped: SkippedNoGuestData}, nil
	}
	if meta.Value.MigratedAt != nil {
		return &Result{Skipped: SkippedAlreadyMigrated, MigratedAt: meta.Value.MigratedAt}, nil
	}

	sessions, err := e.repo.Sessions()
	if err != nil {
		return nil, err
	}
	notes, err := e.repo.Notes()
	if err != nil {
		return nil, err
	}
	tasks, err := e.repo.Tasks()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	failures := make(map[string]string)
	attempted := 0

	for _, s := range sessions {
		attempted++
		if err := e.pushSession(ctx, s); err != nil {
			failures["session:"+s.ID] = err.Error()
			continue
		}
		res.Sessions++
	}
	for _, n := range notes {
		attempted++
		if _, err := e.remote.CreateNote(ctx, n); err != nil {
			failures["note:"+n.ID] = err.Error()
			continue
		}
		res.Notes++
	}
	for _, t := range tasks {
		attempted++
		if _, err := e.remote.CreateTask(ctx, t); err != nil {
			failures["task:"+t.ID] = err.Error()
			continue
		}
		res.Tasks++
	}

	if ctx.Err() != nil {
		return nil, errors.NewCancelled("migration")
	}
	if len(failures) > 0 {
		e.opts.Logger.Printf("migrate: %d of %d items failed", len(failures), attempted)
		return nil, errors.NewMigration(attempted, failures)
	}

	now := e.opts.Now().UTC()
	if err := e.repo.MarkMigrated(now); err != nil {
		return nil, err
	}
	res.MigratedAt = &now

	if !e.opts.RetainGuestData {
		if err := e.repo.ClearRecords(); err != nil {
			// The guard is set, so leftovers can never be re-sent.
			e.opts.Logger.Printf("migrate: clearing guest records: %v", err)
		} else {
			res.Cleared = true
		}
	}
	return res, nil
}

// pushSession creates s remotely. A replayed create that returns an older
// copy is overwritten with the local state (last write wins).
func (e *Engine) pushSession(ctx context.Context, s *session.Session) error {
	out, created, err := e.remote.CreateSession(ctx, s)
	if err != nil {
		return err
	}
	if created || out == nil || out.Version >= s.Version {
		return nil
	}
	_, err = e.remote.UpdateSession(ctx, out.RemoteID, s)
	return err
}
