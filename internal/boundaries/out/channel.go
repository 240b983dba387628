// Package out defines output ports (interfaces) for infrastructure.
// These interfaces define the contract between use cases and driven adapters
// (local processes, SSH sessions).
package out

import (
	"context"
	"fmt"
	"io"

	"github.com/bnema/dockship/internal/domain"
)

// Channel runs commands and moves bytes on one host. The local and the
// SSH-backed implementations expose the same capability set, callers never
// branch on which one they hold.
type Channel interface {
	// Run executes a shell command and returns its raw output.
	// A non-zero exit status is reported as *ExecError.
	Run(ctx context.Context, command string, opts RunOptions) (stdout, stderr []byte, err error)

	// Stat returns size and kind of path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// OpenRead opens path for streamed reading.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// OpenWrite creates or truncates path for streamed writing.
	OpenWrite(ctx context.Context, path string) (io.WriteCloser, error)

	// ListDir returns the entry names of a directory.
	ListDir(ctx context.Context, path string) ([]string, error)

	// Remove deletes a single file.
	Remove(ctx context.Context, path string) error

	// RemoveAll deletes a directory tree.
	RemoveAll(ctx context.Context, path string) error

	// Describe names the host for logs ("local" or "user@host:port").
	Describe() string
}

// RunOptions controls command execution.
type RunOptions struct {
	// Echo logs stdout and stderr once the command completes.
	Echo bool
}

// FileInfo is the subset of file metadata the pipeline needs.
type FileInfo struct {
	Size  int64
	IsDir bool
}

// ExecError reports a command that exited with a non-zero status.
type ExecError struct {
	Command string
	Status  int
	Stderr  []byte
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", e.Command, e.Status)
}

// Unwrap lets errors.Is match domain.ErrExecution.
func (e *ExecError) Unwrap() error {
	return domain.ErrExecution
}
