package syncer

import (
	"sync"

	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/localstore"
	"github.com/hpungsan/stint/internal/session"
)

const outboxStore = "outbox"

// Journal keeps queued snapshots durable until the backend confirms them.
type Journal interface {
	Record(s *session.Session) error
	Settle(s *session.Session) error
}

// Outbox is the device-local Journal. It also mirrors the live session so a
// restart can restore it while the backend is unreachable. Both records sit
// in the local store in every identity mode.
type Outbox struct {
	mu    sync.Mutex
	store *localstore.Store
}

// NewOutbox returns an Outbox over store.
func NewOutbox(store *localstore.Store) *Outbox {
	return &Outbox{store: store}
}

// Record upserts s (highest version wins) and updates the live mirror.
func (o *Outbox) Record(s *session.Session) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.entries()
	if err != nil {
		return err
	}
	replaced := false
	for i, cur := range entries {
		if cur.ID != s.ID {
			continue
		}
		if cur.Version <= s.Version {
			entries[i] = s.Clone()
		}
		replaced = true
		break
	}
	if !replaced {
		entries = append(entries, s.Clone())
	}
	if !localstore.Set(o.store, localstore.Outbox, entries) {
		return errors.NewPersistence(outboxStore, nil)
	}
	return o.mirrorLocked(s)
}

// Settle drops the entry for s once a save of s (or anything newer) landed.
// The mirror adopts the server id of s.
func (o *Outbox) Settle(s *session.Session) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.entries()
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, cur := range entries {
		if cur.ID == s.ID && cur.Version <= s.Version {
			continue
		}
		kept = append(kept, cur)
	}
	if len(kept) != len(entries) {
		if !localstore.Set(o.store, localstore.Outbox, kept) {
			return errors.NewPersistence(outboxStore, nil)
		}
	}

	if s.RemoteID == "" {
		return nil
	}
	cur, err := o.current()
	if err != nil || cur == nil || cur.ID != s.ID || cur.RemoteID != "" {
		return err
	}
	cur.RemoteID = s.RemoteID
	if !localstore.Set(o.store, localstore.Current, cur) {
		return errors.NewPersistence(outboxStore, nil)
	}
	return nil
}

// Remember overwrites the live mirror with s, or clears it when s is nil.
// It is used after a successful restore, whose result is authoritative.
func (o *Outbox) Remember(s *session.Session) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var v *session.Session
	if s != nil && s.IsLive() {
		v = s.Clone()
	}
	if !localstore.Set(o.store, localstore.Current, v) {
		return errors.NewPersistence(outboxStore, nil)
	}
	return nil
}

// Pending returns the unconfirmed snapshots in the order they were first recorded.
func (o *Outbox) Pending() ([]*session.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.entries()
}

// Snapshots returns the pending snapshots plus the mirrored live session,
// one per id at its highest version.
func (o *Outbox) Snapshots() ([]*session.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	out, err := o.entries()
	if err != nil {
		return nil, err
	}
	cur, err := o.current()
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return out, nil
	}
	for i, s := range out {
		if s.ID != cur.ID {
			continue
		}
		if cur.Version > s.Version {
			out[i] = cur
		}
		return out, nil
	}
	return append(out, cur), nil
}

// mirrorLocked keeps Current pointing at the newest live snapshot and
// clears it once that session reaches a terminal status.
func (o *Outbox) mirrorLocked(s *session.Session) error {
	cur, err := o.current()
	if err != nil {
		return err
	}
	same := cur != nil && cur.ID == s.ID
	if same && cur.Version > s.Version {
		return nil
	}

	var next *session.Session
	switch {
	case s.IsLive():
		next = s.Clone()
		if same && next.RemoteID == "" {
			next.RemoteID = cur.RemoteID
		}
	case same:
		next = nil
	default:
		return nil
	}
	if !localstore.Set(o.store, localstore.Current, next) {
		return errors.NewPersistence(outboxStore, nil)
	}
	return nil
}

func (o *Outbox) entries() ([]*session.Session, error) {
	res := localstore.Get[[]*session.Session](o.store, localstore.Outbox)
	switch res.State {
	case localstore.Unavailable:
		return nil, errors.NewPersistence(outboxStore, nil)
	case localstore.Missing:
		return []*session.Session{}, nil
	}
	return res.Value, nil
}

func (o *Outbox) current() (*session.Session, error) {
	res := localstore.Get[*session.Session](o.store, localstore.Current)
	if res.State == localstore.Unavailable {
		return nil, errors.NewPersistence(outboxStore, nil)
	}
	return res.Value, nil
}
