package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/stint/internal/app"
	"github.com/hpungsan/stint/internal/config"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/guest"
	"github.com/hpungsan/stint/internal/session"
)

// AddNoteInput contains parameters for the AddNote operation.
type AddNoteInput struct {
	Title string
	Body  string // markdown
}

// NoteOutput wraps one note.
type NoteOutput struct {
	Mode string     `json:"mode"`
	Note guest.Note `json:"note"`
}

// AddNote stores a note in the guest store or the account.
func AddNote(ctx context.Context, a *app.App, input AddNoteInput) (*NoteOutput, error) {
	if a.Mode() == config.ModeGuest {
		n, err := a.Guest.AddNote(input.Title, input.Body)
		if err != nil {
			return nil, err
		}
		return &NoteOutput{Mode: a.Mode(), Note: n}, nil
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.NewInvalidRequest("title is required")
	}
	client, err := a.Remote()
	if err != nil {
		return nil, err
	}
	id, err := session.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := a.Now().UTC()
	n, err := client.CreateNote(ctx, guest.Note{ID: id, Title: title, Body: input.Body, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return nil, err
	}
	return &NoteOutput{Mode: a.Mode(), Note: n}, nil
}

// NotesOutput lists notes.
type NotesOutput struct {
	Mode  string       `json:"mode"`
	Notes []guest.Note `json:"notes"`
	Count int          `json:"count"`
}

// ListNotes returns notes in creation order.
func ListNotes(ctx context.Context, a *app.App) (*NotesOutput, error) {
	var notes []guest.Note
	var err error
	if a.Mode() == config.ModeGuest {
		notes, err = a.Guest.Notes()
	} else {
		client, cerr := a.Remote()
		if cerr != nil {
			return nil, cerr
		}
		notes, err = client.ListNotes(ctx)
	}
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []guest.Note{}
	}
	return &NotesOutput{Mode: a.Mode(), Notes: notes, Count: len(notes)}, nil
}

// AddTaskInput contains parameters for the AddTask operation.
type AddTaskInput struct {
	Title string
}

// TaskOutput wraps one task.
type TaskOutput struct {
	Mode string     `json:"mode"`
	Task guest.Task `json:"task"`
}

// AddTask stores an open task in the guest store or the account.
func AddTask(ctx context.Context, a *app.App, input AddTaskInput) (*TaskOutput, error) {
	if a.Mode() == config.ModeGuest {
		t, err := a.Guest.AddTask(input.Title)
		if err != nil {
			return nil, err
		}
		return &TaskOutput{Mode: a.Mode(), Task: t}, nil
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.NewInvalidRequest("title is required")
	}
	client, err := a.Remote()
	if err != nil {
		return nil, err
	}
	id, err := session.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := a.Now().UTC()
	t, err := client.CreateTask(ctx, guest.Task{ID: id, Title: title, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return nil, err
	}
	return &TaskOutput{Mode: a.Mode(), Task: t}, nil
}

// SetTaskDoneInput contains parameters for the SetTaskDone operation.
type SetTaskDoneInput struct {
	ID   string
	Done bool
}

// SetTaskDone toggles a guest task. The account API only creates and lists
// tasks, so this is guest-only.
func SetTaskDone(ctx context.Context, a *app.App, input SetTaskDoneInput) (*TaskOutput, error) {
	if a.Mode() != config.ModeGuest {
		return nil, errors.NewInvalidState("task done", config.ModeAccount)
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	t, err := a.Guest.SetTaskDone(id, input.Done)
	if err != nil {
		return nil, err
	}
	return &TaskOutput{Mode: a.Mode(), Task: t}, nil
}

// TasksOutput lists tasks.
type TasksOutput struct {
	Mode  string       `json:"mode"`
	Tasks []guest.Task `json:"tasks"`
	Count int          `json:"count"`
	Open  int          `json:"open"`
}

// ListTasks returns tasks in creation order.
func ListTasks(ctx context.Context, a *app.App) (*TasksOutput, error) {
	var tasks []guest.Task
	var err error
	if a.Mode() == config.ModeGuest {
		tasks, err = a.Guest.Tasks()
	} else {
		client, cerr := a.Remote()
		if cerr != nil {
			return nil, cerr
		}
		tasks, err = client.ListTasks(ctx)
	}
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []guest.Task{}
	}
	open := 0
	for _, t := range tasks {
		if !t.Done {
			open++
		}
	}
	return &TasksOutput{Mode: a.Mode(), Tasks: tasks, Count: len(tasks), Open: open}, nil
}
