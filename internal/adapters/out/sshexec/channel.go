// Package sshexec implements the execution channel over an SSH session:
// commands run through session exec, files move over SFTP.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/bnema/dockship/internal/boundaries/out"
	"github.com/bnema/dockship/internal/domain"
)

// Channel is bound to one SSH client and its SFTP sub-channel. It does
// not own them; the session that created it closes both.
type Channel struct {
	client *ssh.Client
	files  *sftp.Client
	label  string
}

// New creates a remote channel. label names the host in logs.
func New(client *ssh.Client, files *sftp.Client, label string) *Channel {
	return &Channel{client: client, files: files, label: label}
}

var _ out.Channel = (*Channel)(nil)

// Run executes command in a fresh session. The remote login shell
// interprets it, so quoting is the caller's concern.
func (c *Channel) Run(ctx context.Context, command string, opts out.RunOptions) ([]byte, []byte, error) {
	log := zerolog.Ctx(ctx)
	log.Debug().Str("host", c.label).Str("command", command).Msg("run")

	session, err := c.client.NewSession()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open session on %s: %w", domain.ErrExecution, c.label, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Signal(ssh.SIGKILL)
			_ = session.Close()
		case <-done:
		}
	}()

	err = session.Run(command)
	if opts.Echo {
		echo(log, c.label, stdout.Bytes(), stderr.Bytes())
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%w: %s: %w", domain.ErrExecution, command, ctxErr)
		}
		return stdout.Bytes(), stderr.Bytes(), toExecError(command, stderr.Bytes(), err)
	}

	return stdout.Bytes(), stderr.Bytes(), nil
}

func toExecError(command string, stderr []byte, err error) error {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return &out.ExecError{Command: command, Status: exitErr.ExitStatus(), Stderr: stderr}
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return &out.ExecError{Command: command, Status: -1, Stderr: stderr}
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrExecution, command, err)
}

// Stat returns size and kind of p.
func (c *Channel) Stat(_ context.Context, p string) (out.FileInfo, error) {
	info, err := c.files.Stat(p)
	if err != nil {
		return out.FileInfo{}, ioError(c.label, "stat", p, err)
	}
	return out.FileInfo{Size: info.Size(), IsDir: info.IsDir()}, nil
}

// OpenRead opens p for reading over SFTP.
func (c *Channel) OpenRead(_ context.Context, p string) (io.ReadCloser, error) {
	f, err := c.files.Open(p)
	if err != nil {
		return nil, ioError(c.label, "open", p, err)
	}
	return f, nil
}

// OpenWrite creates or truncates p over SFTP.
func (c *Channel) OpenWrite(_ context.Context, p string) (io.WriteCloser, error) {
	f, err := c.files.Create(p)
	if err != nil {
		return nil, ioError(c.label, "create", p, err)
	}
	return f, nil
}

// ListDir returns the entry names of p.
func (c *Channel) ListDir(_ context.Context, p string) ([]string, error) {
	entries, err := c.files.ReadDir(p)
	if err != nil {
		return nil, ioError(c.label, "readdir", p, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Remove deletes a single file.
func (c *Channel) Remove(_ context.Context, p string) error {
	if err := c.files.Remove(p); err != nil {
		return ioError(c.label, "remove", p, err)
	}
	return nil
}

// RemoveAll deletes the tree rooted at p. A missing p is not an error.
func (c *Channel) RemoveAll(ctx context.Context, p string) error {
	info, err := c.files.Lstat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return ioError(c.label, "lstat", p, err)
	}
	return c.removeTree(ctx, p, info)
}

func (c *Channel) removeTree(ctx context.Context, p string, info os.FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !info.IsDir() {
		if err := c.files.Remove(p); err != nil {
			return ioError(c.label, "remove", p, err)
		}
		return nil
	}

	children, err := c.files.ReadDir(p)
	if err != nil {
		return ioError(c.label, "readdir", p, err)
	}
	for _, child := range children {
		if err := c.removeTree(ctx, path.Join(p, child.Name()), child); err != nil {
			return err
		}
	}
	if err := c.files.RemoveDirectory(p); err != nil {
		return ioError(c.label, "rmdir", p, err)
	}
	return nil
}

// Describe returns user@host:port.
func (c *Channel) Describe() string {
	return c.label
}

func ioError(host, op, p string, err error) error {
	return fmt.Errorf("%w: %s %s on %s: %w", domain.ErrIO, op, p, host, err)
}

func echo(log *zerolog.Logger, host string, stdout, stderr []byte) {
	if len(stdout) > 0 {
		log.Info().Str("host", host).Str("stream", "stdout").Msg(string(bytes.TrimSpace(stdout)))
	}
	if len(stderr) > 0 {
		log.Info().Str("host", host).Str("stream", "stderr").Msg(string(bytes.TrimSpace(stderr)))
	}
}
