package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/stint/internal/app"
	"github.com/hpungsan/stint/internal/errors"
	"github.com/hpungsan/stint/internal/guest"
	"github.com/hpungsan/stint/internal/session"
)

// Export formats
const (
	FormatJSONL = "jsonl"
	FormatHTML  = "html"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path   string // optional, default: ~/.stint/exports/<tag|all>-<timestamp>.<format>
	Format string // "jsonl" (default) or "html"
	From   string
	To     string
	Tag    string
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Format     string `json:"format"`
	Sessions   int    `json:"sessions"`
	Notes      int    `json:"notes"`
	Tasks      int    `json:"tasks"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader is the first line of a JSONL export.
type ExportHeader struct {
	StintExport   bool   `json:"_stint_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
	Mode          string `json:"mode"`
}

// ExportRecord is one JSONL line after the header.
type ExportRecord struct {
	Kind    string           `json:"kind"`
	Session *session.Session `json:"session,omitempty"`
	Note    *guest.Note      `json:"note,omitempty"`
	Task    *guest.Task      `json:"task,omitempty"`
}

type exportData struct {
	Mode       string
	ExportedAt time.Time
	Sessions   []*SessionView
	Notes      []guest.Note
	Tasks      []guest.Task
}

// Export writes sessions, notes and tasks to a file. The file is written to
// a temp name and renamed into place so an existing export survives a failure.
func Export(ctx context.Context, a *app.App, input ExportInput) (*ExportOutput, error) {
	format := input.Format
	if format == "" {
		format = FormatJSONL
	}
	if format != FormatJSONL && format != FormatHTML {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown export format %q (use jsonl or html)", format))
	}

	now := a.Now()
	exportPath := input.Path
	if exportPath == "" {
		dir, err := DefaultExportsDir()
		if err != nil {
			return nil, err
		}
		exportPath = filepath.Join(dir, defaultExportName(input.Tag, format, now))
	}
	if err := ValidateExportPath(exportPath, "."+format, a.Config); err != nil {
		return nil, err
	}

	data, err := collectExport(ctx, a, input, now)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}
	write := writeJSONL
	if format == FormatHTML {
		write = writeHTML
	}
	if err := writeAtomic(exportPath, func(w io.Writer) error { return write(ctx, w, data) }); err != nil {
		return nil, err
	}

	return &ExportOutput{
		Path:       exportPath,
		Format:     format,
		Sessions:   len(data.Sessions),
		Notes:      len(data.Notes),
		Tasks:      len(data.Tasks),
		ExportedAt: now.Unix(),
	}, nil
}

func defaultExportName(tag, format string, now time.Time) string {
	name := "all"
	if t := session.NormalizeTag(tag); t != "" {
		name = SanitizeForFilename(t)
	}
	return fmt.Sprintf("%s-%s.%s", name, now.Format("2006-01-02T150405"), format)
}

func collectExport(ctx context.Context, a *app.App, input ExportInput, now time.Time) (*exportData, error) {
	list, err := listSessions(ctx, a, input.From, input.To, input.Tag, MaxListLimit)
	if err != nil {
		return nil, err
	}
	notes, err := ListNotes(ctx, a)
	if err != nil {
		return nil, err
	}
	tasks, err := ListTasks(ctx, a)
	if err != nil {
		return nil, err
	}
	return &exportData{
		Mode:       a.Mode(),
		ExportedAt: now,
		Sessions:   viewsOf(a, list),
		Notes:      notes.Notes,
		Tasks:      tasks.Tasks,
	}, nil
}

func writeJSONL(ctx context.Context, w io.Writer, data *exportData) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(ExportHeader{
		StintExport:   true,
		SchemaVersion: "1",
		ExportedAt:    data.ExportedAt.Unix(),
		Mode:          data.Mode,
	}); err != nil {
		return err
	}

	records := make([]ExportRecord, 0, len(data.Sessions)+len(data.Notes)+len(data.Tasks))
	for _, v := range data.Sessions {
		records = append(records, ExportRecord{Kind: "session", Session: v.Session})
	}
	for i := range data.Notes {
		records = append(records, ExportRecord{Kind: "note", Note: &data.Notes[i]})
	}
	for i := range data.Tasks {
		records = append(records, ExportRecord{Kind: "task", Task: &data.Tasks[i]})
	}

	for _, r := range records {
		if ctx.Err() != nil {
			return errors.NewCancelled("export")
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// writeAtomic writes through fn into a temp file next to path, then renames.
func writeAtomic(path string, fn func(io.Writer) error) error {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	bw := bufio.NewWriter(file)
	if err := fn(bw); err != nil {
		if _, ok := errors.As(err); ok {
			return err
		}
		return errors.NewInternal(err)
	}
	if err := bw.Flush(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink planted at the destination.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("export path is a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}
	success = true
	return nil
}
