package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/stint/internal/config"
	"github.com/hpungsan/stint/internal/server"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "stintd",
		Usage:   "Account API for stint clients",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(),
			tokenCmd(),
		},
		DefaultCommand: "serve",
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API (configured from the environment or .env)",
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadServer()
			if err != nil {
				return err
			}
			logger := log.New(os.Stderr, "stintd: ", log.LstdFlags)
			return serve(c.Context, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.ServerConfig, logger *log.Logger) error {
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	var locker server.Locker
	if cfg.RedisURL != "" {
		rl, err := server.NewRedisLocker(ctx, cfg.RedisURL, cfg.IdempotencyLockTTL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rl.Close()
		locker = rl
		logger.Println("idempotency locks in redis")
	}

	srv := server.New(repo, locker, server.NewJWTAuth(cfg.JWTSecret), logger).NewHTTPServer(":" + cfg.Port)
	return server.Run(srv, logger)
}

func openRepository(ctx context.Context, cfg *config.ServerConfig) (server.Repository, error) {
	if cfg.DatabaseURL != "" {
		repo, err := server.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return repo, nil
	}
	repo, err := server.OpenSQLite(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return repo, nil
}

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint a bearer token for a user (uses JWT_SECRET)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "User id placed in the user_id claim"},
			&cli.DurationFlag{Name: "ttl", Value: 30 * 24 * time.Hour, Usage: "Token lifetime; 0 for no expiry"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadServer()
			if err != nil {
				return err
			}
			token, err := server.NewJWTAuth(cfg.JWTSecret).MintToken(c.String("user"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}
