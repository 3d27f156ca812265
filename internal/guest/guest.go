// Package guest holds the device-local records of an unauthenticated user:
// sessions, notes, tasks and the GuestMeta guard used by migration.
package guest

import (
	"encoding/json"
	"io"
	"log"
	"strings"
	"time"

	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/localstore"
	"github.com/hpungsan/stint/internal/session"
)

// Meta is the per-device guest record. MigratedAt is set exactly once.
type Meta struct {
	CreatedAt     time.Time  `json:"createdAt"`
	SchemaVersion int        `json:"schemaVersion"`
	MigratedAt    *time.Time `json:"migratedAt"`
}

// Note is a free-form guest note.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Task is a guest to-do item.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

const storeName = "local store"

// Repo reads and writes guest records through the local store.
type Repo struct {
	store  *localstore.Store
	logger *log.Logger

	// Now is the clock used for timestamps; tests replace it.
	Now func() time.Time
}

// NewRepo returns a Repo over store. logger may be nil.
func NewRepo(store *localstore.Store, logger *log.Logger) *Repo {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Repo{store: store, logger: logger, Now: time.Now}
}

// Store exposes the underlying local store.
func (r *Repo) Store() *localstore.Store { return r.store }

// Meta reads the guest meta record.
func (r *Repo) Meta() localstore.Result[Meta] {
	return localstore.Get[Meta](r.store, localstore.Meta)
}

// EnsureMeta returns the meta record, creating it when missing.
func (r *Repo) EnsureMeta() (Meta, error) {
	res := r.Meta()
	switch res.State {
	case localstore.Found:
		return res.Value, nil
	case localstore.Missing:
		m := Meta{CreatedAt: r.Now().UTC(), SchemaVersion: localstore.SchemaVersion}
		if !localstore.Set(r.store, localstore.Meta, m) {
			return Meta{}, errors.NewPersistence(storeName, nil)
		}
		return m, nil
	default:
		return Meta{}, errors.NewPersistence(storeName, nil)
	}
}

// MarkMigrated stamps migratedAt. It refuses to overwrite an existing stamp.
func (r *Repo) MarkMigrated(at time.Time) error {
	m, err := r.EnsureMeta()
	if err != nil {
		return err
	}
	if m.MigratedAt != nil {
		return nil
	}
	at = at.UTC()
	m.MigratedAt = &at
	if !localstore.Set(r.store, localstore.Meta, m) {
		return errors.NewPersistence(storeName, nil)
	}
	return nil
}

// Sessions returns all guest sessions, newest first. Records that fail
// validation are skipped and logged.
func (r *Repo) Sessions() ([]*session.Session, error) {
	res := localstore.Get[[]*session.Session](r.store, localstore.Sessions)
	switch res.State {
	case localstore.Unavailable:
		return nil, errors.NewPersistence(storeName, nil)
	case localstore.Missing:
		return []*session.Session{}, nil
	}

	out := make([]*session.Session, 0, len(res.Value))
	for _, s := range res.Value {
		if err := session.Validate(s); err != nil {
			r.logger.Printf("guest: skipping invalid session: %v", err)
			continue
		}
		out = append(out, s)
	}
	session.SortByStartDesc(out)
	return out, nil
}

// SaveSession upserts s by id. A stored copy with a higher version wins,
// so replays of older snapshots are no-ops. Stored records are rewritten
// as-is, including ones Sessions skips as invalid.
func (r *Repo) SaveSession(s *session.Session) error {
	if _, err := r.EnsureMeta(); err != nil {
		return err
	}
	existing, err := readList[json.RawMessage](r, localstore.Sessions)
	if err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return errors.NewInternal(err)
	}

	replaced := false
	for i, raw := range existing {
		var head recordHead
		if json.Unmarshal(raw, &head) != nil || head.ID != s.ID {
			continue
		}
		if head.Version > s.Version {
			return nil
		}
		existing[i] = data
		replaced = true
		break
	}
	if !replaced {
		existing = append(existing, data)
	}

	if !localstore.Set(r.store, localstore.Sessions, existing) {
		return errors.NewPersistence(storeName, nil)
	}
	return nil
}

// recordHead is the part of a stored session the write path needs.
type recordHead struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// Notes returns all guest notes in creation order.
func (r *Repo) Notes() ([]Note, error) {
	return readList[Note](r, localstore.Notes)
}

// AddNote creates a note.
func (r *Repo) AddNote(title, body string) (Note, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Note{}, errors.NewInvalidRequest("title is required")
	}
	id, err := session.NewID()
	if err != nil {
		return Note{}, errors.NewInternal(err)
	}
	now := r.Now().UTC()
	n := Note{ID: id, Title: title, Body: body, CreatedAt: now, UpdatedAt: now}

	notes, err := r.Notes()
	if err != nil {
		return Note{}, err
	}
	if err := writeList(r, localstore.Notes, append(notes, n)); err != nil {
		return Note{}, err
	}
	return n, nil
}

// Tasks returns all guest tasks in creation order.
func (r *Repo) Tasks() ([]Task, error) {
	return readList[Task](r, localstore.Tasks)
}

// AddTask creates an open task.
func (r *Repo) AddTask(title string) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, errors.NewInvalidRequest("title is required")
	}
	id, err := session.NewID()
	if err != nil {
		return Task{}, errors.NewInternal(err)
	}
	now := r.Now().UTC()
	t := Task{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}

	tasks, err := r.Tasks()
	if err != nil {
		return Task{}, err
	}
	if err := writeList(r, localstore.Tasks, append(tasks, t)); err != nil {
		return Task{}, err
	}
	return t, nil
}

// SetTaskDone marks a task done or reopens it.
func (r *Repo) SetTaskDone(id string, done bool) (Task, error) {
	tasks, err := r.Tasks()
	if err != nil {
		return Task{}, err
	}
	for i := range tasks {
		if tasks[i].ID != id {
			continue
		}
		now := r.Now().UTC()
		tasks[i].Done = done
		tasks[i].UpdatedAt = now
		if done {
			tasks[i].CompletedAt = &now
		} else {
			tasks[i].CompletedAt = nil
		}
		if err := writeList(r, localstore.Tasks, tasks); err != nil {
			return Task{}, err
		}
		return tasks[i], nil
	}
	return Task{}, errors.NewNotFound("task", id)
}

// ClearRecords removes sessions, notes and tasks. Meta is kept so the
// migration guard survives.
func (r *Repo) ClearRecords() error {
	if !r.store.Clear(localstore.Sessions, localstore.Notes, localstore.Tasks) {
		return errors.NewPersistence(storeName, nil)
	}
	return nil
}

func readList[T any](r *Repo, c localstore.Collection) ([]T, error) {
	res := localstore.Get[[]T](r.store, c)
	switch res.State {
	case localstore.Unavailable:
		return nil, errors.NewPersistence(storeName, nil)
	case localstore.Missing:
		return []T{}, nil
	}
	return res.Value, nil
}

func writeList[T any](r *Repo, c localstore.Collection, items []T) error {
	if _, err := r.EnsureMeta(); err != nil {
		return err
	}
	if !localstore.Set(r.store, c, items) {
		return errors.NewPersistence(storeName, nil)
	}
	return nil
}
