package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bnema/dockship/internal/adapters/in/cli/ui/components"
	"github.com/bnema/dockship/internal/adapters/in/cli/ui/styles"
	"github.com/bnema/dockship/internal/usecase/pipeline"
)

// renderReport prints the run summary: outcome, step table and totals.
func renderReport(w io.Writer, report *pipeline.Report, plain bool) error {
	var b strings.Builder

	title := report.Source + " -> " + report.Target
	if report.Success {
		b.WriteString(components.RenderStatus(components.StatusSuccess, title, plain))
	} else {
		b.WriteString(components.RenderStatus(components.StatusError, title, plain))
	}
	b.WriteString("\n")

	if len(report.Steps) > 0 {
		rows := make([][]string, 0, len(report.Steps))
		for _, step := range report.Steps {
			status := components.RenderStatus(components.StatusSuccess, "", plain)
			if step.Error != "" {
				status = components.RenderStatus(components.StatusError, "", plain)
			}
			rows = append(rows, []string{string(step.Name), step.Duration.Round(time.Millisecond).String(), status})
		}
		b.WriteString(components.RenderTable([]string{"STEP", "DURATION", "STATUS"}, rows, plain))
		b.WriteString("\n")
	}

	for _, line := range reportDetails(report) {
		b.WriteString(renderMeta(line[0], line[1], plain))
		b.WriteString("\n")
	}

	if report.Transfer != nil {
		if err := report.Transfer.Verify(); err != nil {
			b.WriteString(components.RenderStatus(components.StatusWarning, err.Error(), plain))
			b.WriteString("\n")
		}
	}
	if report.Error != "" {
		b.WriteString(components.RenderStatus(components.StatusError, report.Error, plain))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func reportDetails(report *pipeline.Report) [][2]string {
	var lines [][2]string
	if inv := report.Inventory; inv != nil {
		value := "none, full archive shipped"
		if inv.Found {
			value = fmt.Sprintf("%d layers (%s)", inv.Layers, inv.Source)
		}
		lines = append(lines, [2]string{"inventory", value})
	}
	if p := report.Prune; p != nil {
		lines = append(lines, [2]string{"layers", fmt.Sprintf("%d skipped, %d shipped", len(p.Removed), p.Kept)})
	}
	if report.ArchiveBytes > 0 {
		lines = append(lines, [2]string{"archive", humanize.IBytes(uint64(report.ArchiveBytes))})
	}
	if t := report.Transfer; t != nil {
		lines = append(lines, [2]string{"transferred", fmt.Sprintf("%s in %s (%s/s)",
			humanize.IBytes(uint64(t.Transferred)),
			t.Elapsed.Round(time.Millisecond),
			humanize.IBytes(uint64(t.BytesPerSecond)))})
	}
	lines = append(lines, [2]string{"duration", report.Duration.Round(time.Millisecond).String()})
	return lines
}

func renderMeta(label, value string, plain bool) string {
	if plain {
		return label + ": " + value
	}
	return styles.Theme.Bold.Render(label+":") + " " + styles.Theme.Muted.Render(value)
}
