package ops

import (
	"context"

	"github.com/hpungsan/stint/internal/app"
	"github.com/hpungsan/stint/internal/config"
	"github.com/hpungsan/stint/internal/migrate"
)

// LoginInput contains parameters for the Login operation.
type LoginInput struct {
	Server string
	Token  string
}

// LoginOutput contains the result of the Login operation.
type LoginOutput struct {
	Mode      string          `json:"mode"`
	Server    string          `json:"server"`
	Migration *migrate.Result `json:"migration,omitempty"`
}

// Login stores credentials, migrates guest data and switches to the
// account. A MIGRATION error still leaves the client logged in; rerun
// Migrate to retry.
func Login(ctx context.Context, a *app.App, input LoginInput) (*LoginOutput, error) {
	res, err := a.Login(ctx, input.Server, input.Token)
	if err != nil && a.Mode() != config.ModeAccount {
		// failed before the credentials were stored
		return nil, err
	}
	return &LoginOutput{Mode: a.Mode(), Server: a.Config.RemoteURL, Migration: res}, err
}

// LogoutOutput contains the result of the Logout operation.
type LogoutOutput struct {
	Mode string `json:"mode"`
}

// Logout drops the token and returns to guest mode.
func Logout(ctx context.Context, a *app.App) (*LogoutOutput, error) {
	if err := a.Logout(ctx); err != nil {
		return nil, err
	}
	return &LogoutOutput{Mode: a.Mode()}, nil
}

// MigrateOutput contains the result of the Migrate operation.
type MigrateOutput struct {
	*migrate.Result
}

// Migrate retries the guest-to-account transfer.
func Migrate(ctx context.Context, a *app.App) (*MigrateOutput, error) {
	res, err := a.Migrate(ctx)
	if err != nil {
		return nil, err
	}
	return &MigrateOutput{Result: res}, nil
}
