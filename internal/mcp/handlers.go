package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/stint/internal/app"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	app *app.App
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(a *app.App) *Handlers {
	return &Handlers{app: a}
}

// StartRequest represents the arguments for session_start.
type StartRequest struct {
	Goal           string   `json:"goal,omitempty"`
	SessionType    string   `json:"session_type,omitempty"`
	PlannedMinutes *float64 `json:"planned_minutes,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// StopRequest represents the arguments for session_stop.
type StopRequest struct {
	Rating *int    `json:"rating,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

// ListRequest represents the arguments for session_list.
type ListRequest struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Tag   string `json:"tag,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// ExportRequest represents the arguments for session_export.
type ExportRequest struct {
	Path   string `json:"path,omitempty"`
	Format string `json:"format,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

// NoteAddRequest represents the arguments for note_add.
type NoteAddRequest struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// TaskAddRequest represents the arguments for task_add.
type TaskAddRequest struct {
	Title string `json:"title"`
}

// TaskDoneRequest represents the arguments for task_done.
type TaskDoneRequest struct {
	ID   string `json:"id"`
	Done *bool  `json:"done,omitempty"`
}

// HandleStart handles the session_start tool call.
func (h *Handlers) HandleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StartRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	var planned *int64
	if input.PlannedMinutes != nil {
		secs := int64(*input.PlannedMinutes * 60)
		planned = &secs
	}
	result, err := ops.Start(ctx, h.app, ops.StartInput{
		Goal:                   input.Goal,
		Type:                   input.SessionType,
		PlannedDurationSeconds: planned,
		Tags:                   input.Tags,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePause handles the session_pause tool call.
func (h *Handlers) HandlePause(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(ops.Pause(ctx, h.app))
}

// HandleResume handles the session_resume tool call.
func (h *Handlers) HandleResume(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(ops.Resume(ctx, h.app))
}

// HandleStop handles the session_stop tool call.
func (h *Handlers) HandleStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StopRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(ops.Stop(ctx, h.app, ops.StopInput{Rating: input.Rating, Notes: input.Notes}))
}

// HandleDiscard handles the session_discard tool call.
func (h *Handlers) HandleDiscard(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(ops.Discard(ctx, h.app))
}

// HandleStatus handles the session_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(ops.Status(ctx, h.app))
}

// HandleList handles the session_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(ops.List(ctx, h.app, ops.ListInput{
		From:  input.From,
		To:    input.To,
		Tag:   input.Tag,
		Limit: input.Limit,
	}))
}

// HandleExport handles the session_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(ops.Export(ctx, h.app, ops.ExportInput{
		Path:   input.Path,
		Format: strings.ToLower(input.Format),
		From:   input.From,
		To:     input.To,
		Tag:    input.Tag,
	}))
}

// HandleNoteAdd handles the note_add tool call.
func (h *Handlers) HandleNoteAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NoteAddRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(ops.AddNote(ctx, h.app, ops.AddNoteInput{Title: input.Title, Body: input.Body}))
}

// HandleNoteList handles the note_list tool call.
func (h *Handlers) HandleNoteList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(ops.ListNotes(ctx, h.app))
}

// HandleTaskAdd handles the task_add tool call.
func (h *Handlers) HandleTaskAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TaskAddRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(ops.AddTask(ctx, h.app, ops.AddTaskInput{Title: input.Title}))
}

// HandleTaskDone handles the task_done tool call.
func (h *Handlers) HandleTaskDone(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TaskDoneRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	done := true
	if input.Done != nil {
		done = *input.Done
	}
	return respond(ops.SetTaskDone(ctx, h.app, ops.SetTaskDoneInput{ID: input.ID, Done: done}))
}

// HandleTaskList handles the task_list tool call.
func (h *Handlers) HandleTaskList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(ops.ListTasks(ctx, h.app))
}

// HandleMigrate handles the account_migrate tool call.
func (h *Handlers) HandleMigrate(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(ops.Migrate(ctx, h.app))
}

// Result helpers

func respond[T any](data T, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(data)
}

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// INTERNAL errors never carry the cause or details (paths, SQL).
func errorResult(err error) *mcp.CallToolResult {
	var errorObj map[string]any

	if se, ok := errors.As(err); ok && se.Code != errors.ErrInternal {
		// err.Error() keeps any wrapping context around the StintError
		msg := se.Message
		if outer := err.Error(); outer != se.Error() {
			msg = strings.TrimSuffix(outer, ": "+se.Error()) + ": " + se.Message
		}
		errorObj = map[string]any{
			"code":    se.Code,
			"message": msg,
			"status":  se.Status,
		}
		if se.Details != nil {
			errorObj["details"] = se.Details
		}
	} else {
		errorObj = map[string]any{
			"code":    errors.ErrInternal,
			"message": "an internal error occurred",
			"status":  500,
		}
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
