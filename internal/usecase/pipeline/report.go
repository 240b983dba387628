package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bnema/dockship/internal/usecase/prune"
	"github.com/bnema/dockship/internal/usecase/transfer"
)

// StepRecord is one executed step.
type StepRecord struct {
	Name     Step          `yaml:"name"`
	Duration time.Duration `yaml:"duration"`
	Error    string        `yaml:"error,omitempty"`
}

// InventoryRecord summarizes the destination inventory.
type InventoryRecord struct {
	Found  bool   `yaml:"found"`
	Source string `yaml:"source,omitempty"`
	Layers int    `yaml:"layers"`
	Error  string `yaml:"error,omitempty"`
}

// Report is the outcome of a run, written as YAML with --report.
type Report struct {
	Source    string        `yaml:"source"`
	Target    string        `yaml:"target"`
	WorkDir   string        `yaml:"workdir,omitempty"`
	StartedAt time.Time     `yaml:"started_at"`
	Duration  time.Duration `yaml:"duration"`
	Success   bool          `yaml:"success"`
	Error     string        `yaml:"error,omitempty"`

	Steps        []StepRecord     `yaml:"steps"`
	Inventory    *InventoryRecord `yaml:"inventory,omitempty"`
	Prune        *prune.Report    `yaml:"prune,omitempty"`
	ArchiveBytes int64            `yaml:"archive_bytes,omitempty"`
	Transfer     *transfer.Result `yaml:"transfer,omitempty"`
}

// Executed returns the step names in execution order.
func (r *Report) Executed() []Step {
	steps := make([]Step, 0, len(r.Steps))
	for _, s := range r.Steps {
		steps = append(steps, s.Name)
	}
	return steps
}

// WriteFile stores the report at path, creating parent directories.
func (r *Report) WriteFile(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
