package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bnema/dockship/pkg/validation"
)

const (
	// DefaultChunkSize is the transfer chunk size in bytes (64 KiB).
	DefaultChunkSize = 64 * 1024
	// MaxChunkSize bounds the per-chunk buffer (64 MiB).
	MaxChunkSize = 64 << 20
	// DefaultRuntimePath is the runtime binary invoked at both ends.
	DefaultRuntimePath = "docker"
	// DefaultWorkDirBase holds randomized workdirs.
	DefaultWorkDirBase = "/tmp/.dockship"
	// DefaultConnectTimeout bounds session establishment.
	DefaultConnectTimeout = 10 * time.Second
)

// RunConfig is everything one transfer run needs. It is built once by the
// caller and never mutated by the pipeline.
type RunConfig struct {
	Source string
	Target string

	// WorkDir is used on both hosts. Empty means a randomized directory
	// under WorkDirBase.
	WorkDir     string
	WorkDirBase string

	SourceRuntime string
	TargetRuntime string

	PreHook  string
	PostHook string

	ChunkSize int64
	NoCleanup bool
	Compress  bool

	ReportPath  string
	MetricsPath string
}

// Validate checks the invariants the pipeline relies on.
func (c RunConfig) Validate() error {
	if c.Source == "" || c.Target == "" {
		return fmt.Errorf("%w: source and target images are required", ErrInvalidConfig)
	}
	if c.ChunkSize <= 0 || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: chunk size must be in (0, %d], got %d", ErrInvalidConfig, MaxChunkSize, c.ChunkSize)
	}
	for _, runtime := range []string{c.SourceRuntime, c.TargetRuntime} {
		if err := validation.ValidateCommand(runtime); err != nil {
			return fmt.Errorf("%w: runtime: %w", ErrInvalidConfig, err)
		}
	}
	for _, hook := range []string{c.PreHook, c.PostHook} {
		if hook != "" && strings.ContainsRune(hook, '\x00') {
			return fmt.Errorf("%w: hook contains a NUL byte", ErrInvalidConfig)
		}
	}

	switch {
	case c.WorkDir != "":
		if err := validation.ValidateWorkDir(c.WorkDir); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	case c.WorkDirBase != "":
		if err := validation.ValidateWorkDir(c.WorkDirBase); err != nil {
			return fmt.Errorf("%w: workdir base: %w", ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: workdir or workdir base is required", ErrInvalidConfig)
	}
	return nil
}
