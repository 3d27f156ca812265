package mcp

import "github.com/mark3labs/mcp-go/mcp"

var startToolDef = mcp.NewTool("session_start",
	mcp.WithDescription("Start a focus session. Fails with CONFLICT while another session is active or paused."),
	mcp.WithString("goal", mcp.Description("What the session is for (max 200 characters)")),
	mcp.WithString("session_type", mcp.Description("time-boxed or open; inferred from planned_minutes when omitted"), mcp.Enum("time-boxed", "open")),
	mcp.WithNumber("planned_minutes", mcp.Description("Planned length in minutes for a time-boxed session")),
	mcp.WithArray("tags", mcp.Description("Tags, normalized to lowercase"), mcp.WithStringItems()),
)

var pauseToolDef = mcp.NewTool("session_pause",
	mcp.WithDescription("Pause the active session."),
)

var resumeToolDef = mcp.NewTool("session_resume",
	mcp.WithDescription("Resume the paused session."),
)

var stopToolDef = mcp.NewTool("session_stop",
	mcp.WithDescription("Complete the live session with an optional rating and notes."),
	mcp.WithNumber("rating", mcp.Description("Self rating from 1 to 5")),
	mcp.WithString("notes", mcp.Description("Markdown notes about the session")),
)

var discardToolDef = mcp.NewTool("session_discard",
	mcp.WithDescription("Discard the live session. It is kept with status discarded."),
)

var statusToolDef = mcp.NewTool("session_status",
	mcp.WithDescription("Show the live session with elapsed and remaining time, and the identity mode."),
)

var listToolDef = mcp.NewTool("session_list",
	mcp.WithDescription("List sessions newest first."),
	mcp.WithString("from", mcp.Description("Start of range: RFC3339, YYYY-MM-DD or phrases like 'last monday'")),
	mcp.WithString("to", mcp.Description("End of range, same formats as from")),
	mcp.WithString("tag", mcp.Description("Only sessions carrying this tag")),
	mcp.WithNumber("limit", mcp.Description("Max sessions (default 50, max 500)")),
)

var exportToolDef = mcp.NewTool("session_export",
	mcp.WithDescription("Export sessions, notes and tasks to a JSONL or HTML file."),
	mcp.WithString("path", mcp.Description("Destination file; default ~/.stint/exports/<tag|all>-<timestamp>.<format>")),
	mcp.WithString("format", mcp.Description("jsonl (default) or html"), mcp.Enum("jsonl", "html")),
	mcp.WithString("from", mcp.Description("Start of range")),
	mcp.WithString("to", mcp.Description("End of range")),
	mcp.WithString("tag", mcp.Description("Only sessions carrying this tag")),
)

var noteAddToolDef = mcp.NewTool("note_add",
	mcp.WithDescription("Add a markdown note."),
	mcp.WithString("title", mcp.Required(), mcp.Description("Note title")),
	mcp.WithString("body", mcp.Description("Markdown body")),
)

var noteListToolDef = mcp.NewTool("note_list",
	mcp.WithDescription("List notes in creation order."),
)

var taskAddToolDef = mcp.NewTool("task_add",
	mcp.WithDescription("Add an open task."),
	mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
)

var taskDoneToolDef = mcp.NewTool("task_done",
	mcp.WithDescription("Mark a guest task done, or reopen it with done=false."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
	mcp.WithBoolean("done", mcp.Description("Defaults to true")),
)

var taskListToolDef = mcp.NewTool("task_list",
	mcp.WithDescription("List tasks in creation order with the open count."),
)

var migrateToolDef = mcp.NewTool("account_migrate",
	mcp.WithDescription("Retry moving guest data into the signed-in account. A completed migration is skipped."),
)
