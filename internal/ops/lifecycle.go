package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/stint/internal/app"
	"github.com/hpungsan/stint/internal/controller"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/session"
)

// StartInput contains parameters for the Start operation.
type StartInput struct {
	Goal string
	// Type is "time-boxed" or "open"; empty infers it from PlannedDurationSeconds.
	Type                   string
	PlannedDurationSeconds *int64
	Tags                   []string
}

// SessionOutput is returned by every lifecycle transition.
type SessionOutput struct {
	Session *SessionView `json:"session"`
}

// Start begins a new session. It fails with CONFLICT while one is live.
func Start(ctx context.Context, a *app.App, input StartInput) (*SessionOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("start")
	}
	if err := ensureRestored(ctx, a); err != nil {
		return nil, err
	}
	s, err := a.Controller.Start(controller.StartInput{
		Goal:                   strings.TrimSpace(input.Goal),
		Type:                   session.Type(strings.TrimSpace(input.Type)),
		PlannedDurationSeconds: input.PlannedDurationSeconds,
		Tags:                   input.Tags,
	})
	if err != nil {
		return nil, err
	}
	return &SessionOutput{Session: viewOf(a, s)}, nil
}

// Pause pauses the active session.
func Pause(ctx context.Context, a *app.App) (*SessionOutput, error) {
	return transition(ctx, a, "pause", a.Controller.Pause)
}

// Resume resumes the paused session.
func Resume(ctx context.Context, a *app.App) (*SessionOutput, error) {
	return transition(ctx, a, "resume", a.Controller.Resume)
}

// Discard abandons the live session.
func Discard(ctx context.Context, a *app.App) (*SessionOutput, error) {
	return transition(ctx, a, "discard", a.Controller.Discard)
}

// StopInput contains parameters for the Stop operation.
type StopInput struct {
	Rating *int
	Notes  *string
}

// Stop completes the live session with an optional rating and notes.
func Stop(ctx context.Context, a *app.App, input StopInput) (*SessionOutput, error) {
	return transition(ctx, a, "stop", func() (*session.Session, error) {
		return a.Controller.Stop(controller.StopInput{Rating: input.Rating, Notes: input.Notes})
	})
}

func transition(ctx context.Context, a *app.App, op string, fn func() (*session.Session, error)) (*SessionOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled(op)
	}
	if err := ensureRestored(ctx, a); err != nil {
		return nil, err
	}
	s, err := fn()
	if err != nil {
		return nil, err
	}
	return &SessionOutput{Session: viewOf(a, s)}, nil
}

// statusUnknown is reported while no backend or device mirror can tell
// whether a session is live.
const statusUnknown = "unknown"

// StatusOutput describes the current session, if any.
type StatusOutput struct {
	Mode          string       `json:"mode"`
	Status        string       `json:"status"`
	Session       *SessionView `json:"session,omitempty"`
	PendingWrites int          `json:"pendingWrites"`
}

// Status reports the live session and identity mode. A timer that ran out
// while no process was running has already been completed by Restore.
func Status(ctx context.Context, a *app.App) (*StatusOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("status")
	}
	out := &StatusOutput{
		Mode:          a.Mode(),
		Status:        session.StatusNone,
		PendingWrites: a.Writer.Pending(),
	}
	if ensureRestored(ctx, a) != nil {
		out.Status = statusUnknown
		return out, nil
	}
	if s, _, ok := a.Controller.Current(); ok {
		out.Status = string(s.Status)
		out.Session = viewOf(a, s)
	}
	return out, nil
}

// ensureRestored retries a restore that failed at open, so a long-lived
// process recovers once the backend answers again.
func ensureRestored(ctx context.Context, a *app.App) error {
	if a.Controller.Restored() {
		return nil
	}
	_, err := a.Controller.Restore(ctx)
	return err
}
