package syncer

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/session"
)

// Facade routes session reads and writes to exactly one backend at a time.
type Facade struct {
	mu      sync.RWMutex
	backend Backend
	logger  *log.Logger
}

// NewFacade returns a facade over b. logger may be nil.
func NewFacade(b Backend, logger *log.Logger) *Facade {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Facade{backend: b, logger: logger}
}

// SetBackend switches identity mode. In-flight calls finish on the old backend.
func (f *Facade) SetBackend(b Backend) {
	f.mu.Lock()
	f.backend = b
	f.mu.Unlock()
}

// Backend returns the active backend.
func (f *Facade) Backend() Backend {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.backend
}

// Mode returns the active backend's name.
func (f *Facade) Mode() string {
	return f.Backend().Name()
}

// Save upserts s on the active backend. Failures are PERSISTENCE errors
// unless the backend already classified them.
func (f *Facade) Save(ctx context.Context, s *session.Session) (*session.Session, error) {
	b := f.Backend()
	out, err := b.Save(ctx, s)
	if err != nil {
		return nil, classify(b.Name(), err)
	}
	return out, nil
}

// List returns sessions matching filter, newest first. Records that fail
// validation are dropped.
func (f *Facade) List(ctx context.Context, filter session.Filter) ([]*session.Session, error) {
	b := f.Backend()
	all, err := b.List(ctx, filter)
	if err != nil {
		return nil, classify(b.Name(), err)
	}

	valid := make([]*session.Session, 0, len(all))
	for _, s := range all {
		if err := session.Validate(s); err != nil {
			f.logger.Printf("syncer: dropping invalid %s record: %v", b.Name(), err)
			continue
		}
		valid = append(valid, s)
	}
	return filter.Apply(valid), nil
}

// Get returns the session with the given client id, searching the most
// recent limit records.
func (f *Facade) Get(ctx context.Context, id string, limit int) (*session.Session, error) {
	all, err := f.List(ctx, session.Filter{Limit: limit})
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, errors.NewNotFound("session", id)
}

// Live returns the most recent active or paused session, or nil.
func (f *Facade) Live(ctx context.Context, limit int) (*session.Session, error) {
	all, err := f.List(ctx, session.Filter{Limit: limit})
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.IsLive() {
			return s, nil
		}
	}
	return nil, nil
}

func classify(store string, err error) error {
	if _, ok := errors.As(err); ok {
		return err
	}
	return errors.NewPersistence(store, err)
}
