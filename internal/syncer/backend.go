// Package syncer routes session persistence to the guest store or the
// remote API and retries failed writes in the background.
package syncer

import (
	"context"
	"sync"

	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/guest"
	"github.com/hpungsan/stint/internal/remote"
	"github.com/hpungsan/stint/internal/session"
)

// Backend names
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Backend is one persistence target for sessions.
type Backend interface {
	Name() string
	// Save upserts s by id and returns the stored record.
	Save(ctx context.Context, s *session.Session) (*session.Session, error)
	// List returns sessions matching f, newest first.
	List(ctx context.Context, f session.Filter) ([]*session.Session, error)
}

// LocalBackend stores sessions in the guest local store.
type LocalBackend struct {
	repo *guest.Repo
}

// NewLocalBackend returns a backend over the guest repo.
func NewLocalBackend(repo *guest.Repo) *LocalBackend {
	return &LocalBackend{repo: repo}
}

func (b *LocalBackend) Name() string { return BackendLocal }

func (b *LocalBackend) Save(ctx context.Context, s *session.Session) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("save")
	}
	if err := b.repo.SaveSession(s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

func (b *LocalBackend) List(ctx context.Context, f session.Filter) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("list")
	}
	all, err := b.repo.Sessions()
	if err != nil {
		return nil, err
	}
	return f.Apply(all), nil
}

// RemoteBackend stores sessions through the remote API. Creation is keyed by
// the client id; later writes PATCH the server record.
type RemoteBackend struct {
	client *remote.Client

	mu        sync.Mutex
	remoteIDs map[string]string // client id -> server id
}

// NewRemoteBackend returns a backend over client.
func NewRemoteBackend(client *remote.Client) *RemoteBackend {
	return &RemoteBackend{client: client, remoteIDs: make(map[string]string)}
}

func (b *RemoteBackend) Name() string { return BackendRemote }

// Client exposes the underlying API client.
func (b *RemoteBackend) Client() *remote.Client { return b.client }

func (b *RemoteBackend) Save(ctx context.Context, s *session.Session) (*session.Session, error) {
	remoteID := s.RemoteID
	if remoteID == "" {
		remoteID = b.lookup(s.ID)
	}

	if remoteID != "" {
		out, err := b.client.UpdateSession(ctx, remoteID, s)
		if err == nil {
			b.remember(s.ID, out.RemoteID)
			return out, nil
		}
		// Stale mapping (record unknown to this account): fall through to create
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
	}

	out, created, err := b.client.CreateSession(ctx, s)
	if err != nil {
		return nil, err
	}
	b.remember(s.ID, out.RemoteID)
	if created || out.Version >= s.Version {
		return out, nil
	}

	// Replayed create returned an older copy; push the current state
	out, err = b.client.UpdateSession(ctx, out.RemoteID, s)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *RemoteBackend) List(ctx context.Context, f session.Filter) ([]*session.Session, error) {
	out, err := b.client.ListSessions(ctx, f)
	if err != nil {
		return nil, err
	}
	for _, s := range out {
		b.remember(s.ID, s.RemoteID)
	}
	return out, nil
}

func (b *RemoteBackend) lookup(clientID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remoteIDs[clientID]
}

func (b *RemoteBackend) remember(clientID, remoteID string) {
	if clientID == "" || remoteID == "" {
		return
	}
	b.mu.Lock()
	b.remoteIDs[clientID] = remoteID
	b.mu.Unlock()
}
