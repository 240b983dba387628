// Package components renders the CLI's terminal output: status lines,
// tables and the transfer progress bar.
package components

import (
	"github.com/bnema/dockship/internal/adapters/in/cli/ui/styles"

	"github.com/charmbracelet/lipgloss"
)

// Status represents a status type for rendering.
type Status int

const (
	StatusSuccess Status = iota
	StatusError
	StatusWarning
	StatusInfo
	StatusSkipped
)

type statusConfig struct {
	icon  string
	ascii string
	style lipgloss.Style
}

var statusConfigs = map[Status]statusConfig{
	StatusSuccess: {styles.IconSuccess, styles.ASCIISuccess, styles.Theme.Success},
	StatusError:   {styles.IconError, styles.ASCIIError, styles.Theme.Error},
	StatusWarning: {styles.IconWarning, styles.ASCIIWarning, styles.Theme.Warning},
	StatusInfo:    {styles.IconInfo, styles.ASCIIInfo, styles.Theme.Info},
	StatusSkipped: {styles.IconSkipped, styles.ASCIISkipped, styles.Theme.Muted},
}

// RenderStatus renders a status icon with an optional label. Plain output
// uses ASCII markers and no colors.
func RenderStatus(status Status, label string, plain bool) string {
	cfg := statusConfigs[status]
	if plain {
		if label == "" {
			return "[" + cfg.ascii + "]"
		}
		return "[" + cfg.ascii + "] " + label
	}
	if label == "" {
		return cfg.style.Render(cfg.icon)
	}
	return cfg.style.Render(cfg.icon + " " + label)
}
