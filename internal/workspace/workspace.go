// Package workspace turns a job payload into a directory on local disk:
// a shallow git clone, an unpacked archive, or a vetted local path.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/seantiz/compatscan/internal/model"
)

// Acquisition methods.
const (
	MethodClone   = "clone"
	MethodArchive = "archive"
	MethodLocal   = "local"
)

// DefaultMaxExtractBytes caps the total bytes written when unpacking one archive.
const DefaultMaxExtractBytes int64 = 256 << 20

// ErrNoSource is returned for payloads that name zero or several sources.
var ErrNoSource = errors.New("payload must name exactly one of remoteUrl, archive, localPath")

// AcquisitionError is a fatal failure to produce a workspace.
type AcquisitionError struct {
	Method string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("acquire workspace: %v", e.Err)
	}
	return fmt.Sprintf("acquire workspace (%s): %v", e.Method, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// MethodFor reports which acquisition method a payload selects, or "" when
// it does not name exactly one source.
func MethodFor(p model.Payload) string {
	if p.Sources() != 1 {
		return ""
	}
	switch {
	case p.RemoteURL != "":
		return MethodClone
	case len(p.Archive) > 0:
		return MethodArchive
	default:
		return MethodLocal
	}
}

// Workspace is an acquired source tree.
type Workspace struct {
	Root   string
	Method string

	// staged is the directory this workspace owns and removes on Cleanup.
	// Local-path workspaces own nothing.
	staged string
}

// Cleanup removes any staging directory created for the workspace.
func (w *Workspace) Cleanup() error {
	if w == nil || w.staged == "" {
		return nil
	}
	if err := os.RemoveAll(w.staged); err != nil {
		return fmt.Errorf("remove staging dir: %w", err)
	}
	return nil
}

// Options configures an Acquirer.
type Options struct {
	// WorkDir is the parent of per-job staging directories.
	WorkDir string
	// AllowedRoots restricts local-path payloads. Empty allows any directory.
	AllowedRoots []string
	// GitBinary defaults to "git".
	GitBinary string
	// MaxExtractBytes defaults to DefaultMaxExtractBytes.
	MaxExtractBytes int64
}

// Acquirer resolves payloads into workspaces.
type Acquirer struct {
	opts   Options
	logger *slog.Logger
}

// NewAcquirer creates an Acquirer.
func NewAcquirer(opts Options, logger *slog.Logger) *Acquirer {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.GitBinary == "" {
		opts.GitBinary = "git"
	}
	if opts.MaxExtractBytes <= 0 {
		opts.MaxExtractBytes = DefaultMaxExtractBytes
	}
	return &Acquirer{opts: opts, logger: logger}
}

// Acquire produces the workspace for p. Every error it returns is an
// *AcquisitionError.
func (a *Acquirer) Acquire(ctx context.Context, p model.Payload) (*Workspace, error) {
	method := MethodFor(p)
	var (
		ws  *Workspace
		err error
	)
	switch method {
	case MethodClone:
		ws, err = a.clone(ctx, p.RemoteURL, p.Ref)
	case MethodArchive:
		ws, err = a.unpack(ctx, p.Archive)
	case MethodLocal:
		ws, err = a.local(p.LocalPath)
	default:
		err = ErrNoSource
	}
	if err != nil {
		return nil, &AcquisitionError{Method: method, Err: err}
	}
	ws.Method = method
	a.logger.Debug("workspace acquired", "method", method, "root", ws.Root)
	return ws, nil
}

// stage creates a fresh staging directory under WorkDir.
func (a *Acquirer) stage() (string, error) {
	if err := os.MkdirAll(a.opts.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	dir := filepath.Join(a.opts.WorkDir, uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

func (a *Acquirer) local(path string) (*Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", path, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", path)
	}
	if !a.allowed(resolved) {
		return nil, fmt.Errorf("%q is outside the allowed local roots", path)
	}
	return &Workspace{Root: resolved}, nil
}

func (a *Acquirer) allowed(path string) bool {
	if len(a.opts.AllowedRoots) == 0 {
		return true
	}
	for _, root := range a.opts.AllowedRoots {
		r, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(r); err == nil {
			r = resolved
		}
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
