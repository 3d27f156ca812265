// Package app wires the local store, the sync facade, the write queue and
// the session controller into one handle shared by the CLI and MCP surfaces.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/stint/internal/config"
	"github.com/hpungsan/stint/internal/controller"
	"github.com/hpungsan/stint/internal/db"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/guest"
	"github.com/hpungsan/stint/internal/localstore"
	"github.com/hpungsan/stint/internal/migrate"
	"github.com/hpungsan/stint/internal/remote"
	"github.com/hpungsan/stint/internal/session"
	"github.com/hpungsan/stint/internal/syncer"
)

// Options configures Open.
type Options struct {
	// BaseDir holds stint.db and config.json. Default: ~/.stint.
	BaseDir string
	// Live starts the controller's tick/poll loop. One-shot CLI commands
	// leave it off and rely on Restore's immediate tick instead.
	Live bool

	Now        func() time.Time
	NewID      func() (string, error)
	HTTPClient *http.Client
	Logger     *log.Logger
}

// App is an opened stint client.
type App struct {
	BaseDir    string
	Config     *config.Config
	DB         *sql.DB
	Guest      *guest.Repo
	Outbox     *syncer.Outbox
	Facade     *syncer.Facade
	Writer     *syncer.Writer
	Controller *controller.Controller

	now    func() time.Time
	http   *http.Client
	logger *log.Logger
}

// DefaultBaseDir returns ~/.stint.
func DefaultBaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".stint"), nil
}

// Open loads config, opens the local database, selects the backend for the
// configured identity mode and restores any live session.
func Open(ctx context.Context, opts Options) (*App, error) {
	if opts.BaseDir == "" {
		dir, err := DefaultBaseDir()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		opts.BaseDir = dir
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(opts.BaseDir, cwd)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("failed to load config: %v", err))
	}

	conn, err := db.Init(opts.BaseDir)
	if err != nil {
		return nil, errors.NewPersistence("local store", err)
	}
	db.ConfigurePool(conn, cfg)

	store := localstore.New(conn, cfg.Namespace, opts.Logger)
	repo := guest.NewRepo(store, opts.Logger)
	repo.Now = opts.Now

	a := &App{
		BaseDir: opts.BaseDir,
		Config:  cfg,
		DB:      conn,
		Guest:   repo,
		Outbox:  syncer.NewOutbox(store),
		now:     opts.Now,
		http:    opts.HTTPClient,
		logger:  opts.Logger,
	}
	a.Facade = syncer.NewFacade(a.backendFor(cfg), opts.Logger)

	// The controller is built after the writer; callbacks resolve it lazily.
	var ctl *controller.Controller
	a.Writer = syncer.NewWriter(a.Facade, syncer.WriterOptions{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay(),
		OnSaved: func(saved *session.Session) {
			if ctl != nil {
				ctl.Saved(saved)
			}
		},
		OnFailure: func(s *session.Session, err error) {
			if ctl != nil {
				ctl.PersistFailed(s, err)
			}
		},
		Journal: a.Outbox,
		Logger:  opts.Logger,
	})

	copts := controller.Options{
		Now:        opts.Now,
		NewID:      opts.NewID,
		CapSeconds: int64(cfg.OpenSessionCapSeconds),
		Mirror:     a.Outbox,
		Logger:     opts.Logger,
	}
	if opts.Live {
		copts.TickInterval = cfg.TickInterval()
		copts.PollInterval = cfg.PollInterval()
	}
	ctl = controller.New(a.Writer, a.Facade, copts)
	a.Controller = ctl

	a.restore(ctx)
	return a, nil
}

// restore reloads the live session and replays snapshots an earlier process
// could not save. When nothing can confirm the live state, the controller
// refuses new sessions until a later Restore succeeds.
func (a *App) restore(ctx context.Context) {
	cur, err := a.Controller.Restore(ctx)
	if err != nil {
		a.logger.Printf("app: restore failed: %v", err)
	} else if err := a.Outbox.Remember(cur); err != nil {
		a.logger.Printf("app: mirror live session: %v", err)
	}

	pending, err := a.Outbox.Pending()
	if err != nil {
		a.logger.Printf("app: read outbox: %v", err)
		return
	}
	for _, s := range pending {
		a.Writer.Enqueue(s)
	}
	if len(pending) > 0 {
		a.logger.Printf("app: replaying %d unsaved session snapshot(s)", len(pending))
	}
}

func (a *App) backendFor(cfg *config.Config) syncer.Backend {
	if cfg.Mode() == config.ModeAccount {
		return syncer.NewRemoteBackend(a.remoteClient(cfg))
	}
	return syncer.NewLocalBackend(a.Guest)
}

func (a *App) remoteClient(cfg *config.Config) *remote.Client {
	return remote.New(cfg.RemoteURL, cfg.AuthToken, a.http)
}

// Mode returns "guest" or "account".
func (a *App) Mode() string {
	return a.Config.Mode()
}

// Now returns the app clock.
func (a *App) Now() time.Time {
	return a.now()
}

// Remote returns the API client for account mode.
func (a *App) Remote() (*remote.Client, error) {
	if a.Mode() != config.ModeAccount {
		return nil, errors.NewUnauthorized("not logged in; run `stint login` first")
	}
	return a.remoteClient(a.Config), nil
}

// Close flushes pending writes (bounded by ctx), stops the controller loop
// and closes the database.
func (a *App) Close(ctx context.Context) error {
	a.Controller.Close()
	flushErr := a.Writer.Close(ctx)
	if err := a.DB.Close(); err != nil {
		return errors.NewInternal(err)
	}
	return flushErr
}

// Login stores credentials, migrates guest data and switches to the remote
// backend. A live guest session is re-enqueued to the remote backend after
// the switch; its client id keeps the create idempotent. The backend is
// switched even when migration fails so later runs use the account, and
// `stint migrate` retries the transfer.
func (a *App) Login(ctx context.Context, remoteURL, token string) (*migrate.Result, error) {
	remoteURL = strings.TrimRight(strings.TrimSpace(remoteURL), "/")
	token = strings.TrimSpace(token)
	if remoteURL == "" {
		return nil, errors.NewInvalidRequest("server url is required")
	}
	if token == "" {
		return nil, errors.NewInvalidRequest("token is required")
	}

	client := remote.New(remoteURL, token, a.http)
	if err := client.Health(ctx); err != nil {
		return nil, err
	}

	// Drain guest writes before reading the store for migration.
	if err := a.Writer.Flush(ctx); err != nil {
		return nil, err
	}

	if err := config.Update(a.BaseDir, func(c *config.Config) {
		c.RemoteURL = remoteURL
		c.AuthToken = token
	}); err != nil {
		return nil, errors.NewInternal(err)
	}
	a.Config.RemoteURL = remoteURL
	a.Config.AuthToken = token

	res, migErr := a.migrateWith(ctx, client)

	a.Facade.SetBackend(syncer.NewRemoteBackend(client))
	if cur, _, ok := a.Controller.Current(); ok {
		a.Writer.Enqueue(cur)
	}
	return res, migErr
}

// Migrate reruns the guest-to-account transfer. It is a no-op once the
// guest store is marked migrated.
func (a *App) Migrate(ctx context.Context) (*migrate.Result, error) {
	client, err := a.Remote()
	if err != nil {
		return nil, err
	}
	if err := a.Writer.Flush(ctx); err != nil {
		return nil, err
	}
	return a.migrateWith(ctx, client)
}

func (a *App) migrateWith(ctx context.Context, client *remote.Client) (*migrate.Result, error) {
	return migrate.New(a.Guest, client, migrate.Options{
		RetainGuestData: a.Config.RetainGuestData,
		Now:             a.now,
		Logger:          a.logger,
	}).Run(ctx)
}

// Logout clears the token and switches back to guest mode. It refuses while
// a session is live because the session would stay behind in the account.
func (a *App) Logout(ctx context.Context) error {
	if cur, _, ok := a.Controller.Current(); ok {
		return errors.NewInvalidState("logout", string(cur.Status))
	}
	if err := a.Writer.Flush(ctx); err != nil {
		return err
	}
	if err := config.Update(a.BaseDir, func(c *config.Config) {
		c.AuthToken = ""
	}); err != nil {
		return errors.NewInternal(err)
	}
	a.Config.AuthToken = ""
	a.Facade.SetBackend(syncer.NewLocalBackend(a.Guest))
	return nil
}
