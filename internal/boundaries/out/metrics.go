package out

import "time"

// MetricsRecorder collects run metrics. Flush persists them; recorders
// without a sink make it a no-op.
type MetricsRecorder interface {
	StepCompleted(step string, duration time.Duration, failed bool)
	LayersPruned(removed, kept, failed int)
	ArchiveSize(bytes int64)
	BytesTransferred(bytes int64, duration time.Duration)
	RunFinished(success bool, duration time.Duration)
	Flush() error
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) StepCompleted(string, time.Duration, bool) {}
func (NopMetrics) LayersPruned(int, int, int)                {}
func (NopMetrics) ArchiveSize(int64)                         {}
func (NopMetrics) BytesTransferred(int64, time.Duration)     {}
func (NopMetrics) RunFinished(bool, time.Duration)           {}
func (NopMetrics) Flush() error                              { return nil }
