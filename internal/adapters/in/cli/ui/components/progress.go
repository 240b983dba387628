package components

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/dustin/go-humanize"
)

const (
	barWidth            = 30
	interactiveInterval = 100 * time.Millisecond
	plainInterval       = 2 * time.Second
)

// TransferProgress draws transfer progress. On a terminal the bar is
// redrawn in place; otherwise one line is printed per interval.
type TransferProgress struct {
	mu          sync.Mutex
	w           io.Writer
	bar         progress.Model
	interactive bool
	interval    time.Duration
	lastDraw    time.Duration
	drawn       bool
}

// NewTransferProgress creates a progress renderer writing to w.
func NewTransferProgress(w io.Writer, interactive bool) *TransferProgress {
	interval := plainInterval
	if interactive {
		interval = interactiveInterval
	}
	return &TransferProgress{
		w:           w,
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
		interactive: interactive,
		interval:    interval,
	}
}

// Update records progress after elapsed. Updates closer than the interval
// are dropped, except the final one.
func (p *TransferProgress) Update(transferred, total int64, elapsed time.Duration, bytesPerSecond float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	final := total > 0 && transferred >= total
	if p.drawn && !final && elapsed-p.lastDraw < p.interval {
		return
	}
	p.lastDraw = elapsed
	p.drawn = true

	line := p.line(transferred, total, bytesPerSecond)
	if p.interactive {
		fmt.Fprint(p.w, "\r"+line)
		return
	}
	fmt.Fprintln(p.w, line)
}

// Done terminates the in-place line.
func (p *TransferProgress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interactive && p.drawn {
		fmt.Fprintln(p.w)
	}
}

func (p *TransferProgress) line(transferred, total int64, bytesPerSecond float64) string {
	fraction := 1.0
	if total > 0 {
		fraction = float64(transferred) / float64(total)
	}
	sizes := fmt.Sprintf("%s / %s", humanize.IBytes(uint64(transferred)), humanize.IBytes(uint64(total)))
	rate := humanize.IBytes(uint64(bytesPerSecond)) + "/s"

	if p.interactive {
		return p.bar.ViewAs(fraction) + "  " + sizes + "  " + rate
	}
	return fmt.Sprintf("transferred %s (%.0f%%) at %s", sizes, fraction*100, rate)
}
