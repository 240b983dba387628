// Package localexec implements the execution channel for the local host.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/bnema/dockship/internal/boundaries/out"
	"github.com/bnema/dockship/internal/domain"
)

// Channel runs commands through the host shell so pipes and redirections
// work, and reads and writes local files.
type Channel struct {
	shell string
}

// Option configures a Channel.
type Option func(*Channel)

// WithShell overrides the shell used to run commands (default /bin/sh).
func WithShell(shell string) Option {
	return func(c *Channel) {
		c.shell = shell
	}
}

// New creates a local channel.
func New(opts ...Option) *Channel {
	c := &Channel{shell: "/bin/sh"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ out.Channel = (*Channel)(nil)

// Run executes command with "sh -c".
func (c *Channel) Run(ctx context.Context, command string, opts out.RunOptions) ([]byte, []byte, error) {
	log := zerolog.Ctx(ctx)
	log.Debug().Str("host", c.Describe()).Str("command", command).Msg("run")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.shell, "-c", command) // #nosec G204
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if opts.Echo {
		echo(log, c.Describe(), stdout.Bytes(), stderr.Bytes())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), stderr.Bytes(), &out.ExecError{
				Command: command,
				Status:  exitErr.ExitCode(),
				Stderr:  stderr.Bytes(),
			}
		}
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%w: %s: %w", domain.ErrExecution, command, err)
	}

	return stdout.Bytes(), stderr.Bytes(), nil
}

// Stat returns size and kind of path.
func (c *Channel) Stat(_ context.Context, path string) (out.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return out.FileInfo{}, fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	return out.FileInfo{Size: info.Size(), IsDir: info.IsDir()}, nil
}

// OpenRead opens path for reading.
func (c *Channel) OpenRead(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	return f, nil
}

// OpenWrite creates or truncates path.
func (c *Channel) OpenWrite(_ context.Context, path string) (io.WriteCloser, error) {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	return f, nil
}

// ListDir returns the entry names of path in directory order.
func (c *Channel) ListDir(_ context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Remove deletes a single file.
func (c *Channel) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	return nil
}

// RemoveAll deletes a directory tree.
func (c *Channel) RemoveAll(_ context.Context, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	return nil
}

// Describe returns "local".
func (c *Channel) Describe() string {
	return "local"
}

func echo(log *zerolog.Logger, host string, stdout, stderr []byte) {
	if len(stdout) > 0 {
		log.Info().Str("host", host).Str("stream", "stdout").Msg(string(bytes.TrimSpace(stdout)))
	}
	if len(stderr) > 0 {
		log.Info().Str("host", host).Str("stream", "stderr").Msg(string(bytes.TrimSpace(stderr)))
	}
}
