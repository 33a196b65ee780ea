package utils

import (
	"fmt"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"

	"e6grab/internal"
)

// Reporter coalesces progress updates from scheduler workers and forwards
// them to the sink at no more than the configured refresh rate. Terminal
// events are always delivered regardless of rate.
type Reporter struct {
	sink     internal.ProgressSink
	interval time.Duration

	mu     sync.Mutex
	last   time.Time
	bytes  int64
	done   int
	failed int
	total  int
}

// NewReporter creates a reporter emitting at most refreshHz events/sec.
func NewReporter(sink internal.ProgressSink, refreshHz int) *Reporter {
	if refreshHz < 1 {
		refreshHz = 1
	}
	return &Reporter{
		sink:     sink,
		interval: time.Second / time.Duration(refreshHz),
	}
}

// AddTotal grows the number of expected jobs.
func (r *Reporter) AddTotal(n int) {
	r.mu.Lock()
	r.total += n
	r.emitLocked(false)
	r.mu.Unlock()
}

// AddBytes records transferred bytes.
func (r *Reporter) AddBytes(n int64) {
	r.mu.Lock()
	r.bytes += n
	r.emitLocked(false)
	r.mu.Unlock()
}

// JobDone records a completed job.
func (r *Reporter) JobDone() {
	r.mu.Lock()
	r.done++
	r.emitLocked(false)
	r.mu.Unlock()
}

// JobFailed records a failed job.
func (r *Reporter) JobFailed() {
	r.mu.Lock()
	r.failed++
	r.emitLocked(false)
	r.mu.Unlock()
}

// Finish flushes a final event marking the batch complete.
func (r *Reporter) Finish() {
	r.mu.Lock()
	r.emitLocked(true)
	r.mu.Unlock()
}

func (r *Reporter) emitLocked(terminal bool) {
	now := time.Now()
	if !terminal && now.Sub(r.last) < r.interval {
		return
	}
	r.last = now
	r.sink.Progress(internal.ProgressEvent{
		Bytes:     r.bytes,
		Done:      r.done,
		Failed:    r.failed,
		Total:     r.total,
		Completed: terminal,
	})
}

// ConsoleSink renders progress as a terminal bar.
type ConsoleSink struct {
	mu    sync.Mutex
	bar   *pb.ProgressBar
	quiet bool
}

// NewConsoleSink creates a console progress sink. In quiet mode all events
// are dropped.
func NewConsoleSink(quiet bool) *ConsoleSink {
	return &ConsoleSink{quiet: quiet}
}

// Progress implements internal.ProgressSink.
func (s *ConsoleSink) Progress(ev internal.ProgressEvent) {
	if s.quiet {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bar == nil {
		tmpl := `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{string . "bytes"}}`
		s.bar = pb.ProgressBarTemplate(tmpl).Start64(int64(ev.Total))
		s.bar.Set("prefix", "Downloading: ")
	}

	s.bar.SetTotal(int64(ev.Total))
	s.bar.SetCurrent(int64(ev.Done + ev.Failed))
	s.bar.Set("bytes", humanize.Bytes(uint64(ev.Bytes)))

	if ev.Completed {
		s.bar.Finish()
		s.bar = nil
		if ev.Failed > 0 {
			fmt.Printf("Completed with %d failed of %d jobs (%s transferred)\n",
				ev.Failed, ev.Total, humanize.Bytes(uint64(ev.Bytes)))
		}
	}
}
