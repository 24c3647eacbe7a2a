package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRepositoryID = "repository.id"
	KeyRepository   = "repository"
	KeyBranch       = "branch"
	KeyStage        = "stage"
	KeyAttempt      = "attempt"
	KeyTool         = "tool"
	KeyPath         = "path"
	KeyDurationMS   = "duration_ms"
	KeyError        = "error"
	KeyStatus       = "status"
	KeyModel        = "model"
	KeyCatalogue    = "catalogue"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RepositoryID(id string) slog.Attr { return slog.String(KeyRepositoryID, id) }
func Repository(name string) slog.Attr { return slog.String(KeyRepository, name) }
func Branch(b string) slog.Attr        { return slog.String(KeyBranch, b) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func Attempt(n int) slog.Attr          { return slog.Int(KeyAttempt, n) }
func Tool(name string) slog.Attr       { return slog.String(KeyTool, name) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func DurationMS(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Milliseconds()))
}
func Status(s string) slog.Attr        { return slog.String(KeyStatus, s) }
func Model(m string) slog.Attr         { return slog.String(KeyModel, m) }
func Catalogue(title string) slog.Attr { return slog.String(KeyCatalogue, title) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
