package downloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"e6grab/internal"
	"e6grab/metrics"
	"e6grab/utils"
)

// job is a queued download with its subscribers. A destination path has at
// most one job queued or in flight; later submissions for the same path
// join the existing job instead of duplicating work.
type job struct {
	spec     internal.DownloadJob
	ctx      context.Context
	prefetch bool
	subs     []chan<- internal.JobResult
}

// Scheduler is the bounded-concurrency download executor. A fixed pool of
// workers pulls from a two-level FIFO queue; foreground submissions are
// always served before prefetch work.
type Scheduler struct {
	client   *utils.Client
	fs       afero.Fs
	ops      *utils.FileOperations
	sidecars *SidecarWriter
	reporter *utils.Reporter
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	fg     []*job
	bg     []*job
	active map[string]*job
	wake   chan struct{}
}

// NewScheduler starts a scheduler with the given worker count.
func NewScheduler(client *utils.Client, fs afero.Fs, sidecars *SidecarWriter, workers int, reporter *utils.Reporter, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		client:   client,
		fs:       fs,
		ops:      utils.NewFileOperations(fs),
		sidecars: sidecars,
		reporter: reporter,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]*job),
		wake:     make(chan struct{}, 1024),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return s
}

// Close stops the workers. Queued jobs that have not started are dropped;
// in-flight jobs abort at their next I/O checkpoint.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

// Submit enqueues a batch. Every job delivers exactly one result per
// subscription to results, which must have capacity for the whole batch so
// workers never block on delivery. Foreground submissions take priority
// over prefetch; a submission for a destination that is already queued or
// in flight joins the existing job (and promotes it out of the prefetch
// queue when the new submission is foreground).
func (s *Scheduler) Submit(ctx context.Context, jobs []internal.DownloadJob, prefetch bool, results chan<- internal.JobResult) {
	s.mu.Lock()
	for i := range jobs {
		spec := jobs[i]
		if existing, ok := s.active[spec.Dest]; ok {
			existing.subs = append(existing.subs, results)
			if !prefetch && existing.prefetch {
				s.promoteLocked(existing)
			}
			continue
		}
		j := &job{
			spec:     spec,
			ctx:      ctx,
			prefetch: prefetch,
			subs:     []chan<- internal.JobResult{results},
		}
		s.active[spec.Dest] = j
		if prefetch {
			s.bg = append(s.bg, j)
		} else {
			s.fg = append(s.fg, j)
		}
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
}

// promoteLocked moves a queued prefetch job to the foreground queue.
// In-flight jobs are left alone; they are already being served.
func (s *Scheduler) promoteLocked(j *job) {
	j.prefetch = false
	for i, queued := range s.bg {
		if queued == j {
			s.bg = append(s.bg[:i], s.bg[i+1:]...)
			s.fg = append(s.fg, j)
			return
		}
	}
}

// pop dequeues the next job, foreground first.
func (s *Scheduler) pop() *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fg) > 0 {
		j := s.fg[0]
		s.fg = s.fg[1:]
		return j
	}
	if len(s.bg) > 0 {
		j := s.bg[0]
		s.bg = s.bg[1:]
		return j
	}
	return nil
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		j := s.pop()
		if j == nil {
			select {
			case <-s.wake:
				continue
			case <-s.ctx.Done():
				return
			}
		}
		s.process(j)
	}
}

// process executes a job and delivers its result to every subscriber.
// The job is removed from the active set before delivery so a later
// submission for the same destination starts fresh.
func (s *Scheduler) process(j *job) {
	result := s.execute(j)

	s.mu.Lock()
	delete(s.active, j.spec.Dest)
	subs := j.subs
	s.mu.Unlock()

	// Per-job progress counts are the submitter's concern; a retried job
	// must count once, which only the submitter can know.
	switch result.Status {
	case internal.JobDone:
		if s.metrics != nil {
			s.metrics.JobsCompleted.Inc()
			if result.Cached {
				s.metrics.JobsShortCircuited.Inc()
			}
		}
	case internal.JobFailed:
		if s.metrics != nil {
			s.metrics.JobsFailed.Inc()
		}
		internal.LogWarn("download of post %d failed: %v", result.PostID, result.Err)
	}

	for _, ch := range subs {
		ch <- result
	}
}

// execute runs one download job to a terminal status.
func (s *Scheduler) execute(j *job) internal.JobResult {
	spec := j.spec
	result := internal.JobResult{
		PostID: spec.Post.ID,
		Dest:   spec.Dest,
		Status: internal.JobFailed,
	}

	ctx := j.ctx
	if ctx == nil {
		ctx = s.ctx
	}
	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}
	select {
	case <-s.ctx.Done():
		result.Err = s.ctx.Err()
		return result
	default:
	}

	if s.alreadyComplete(spec) {
		internal.LogDebug("post %d already on disk, skipping fetch", spec.Post.ID)
		result.Status = internal.JobDone
		result.Cached = true
		return result
	}

	written, err := s.fetchToFile(ctx, spec)
	if err != nil {
		result.Err = err
		return result
	}
	result.Bytes = written

	if err := s.sidecars.Write(spec.Dest, spec.Post); err != nil {
		result.Err = fmt.Errorf("sidecar write failed: %w", err)
		return result
	}

	result.Status = internal.JobDone
	return result
}

// alreadyComplete reports whether the destination file and its sidecar are
// both present and match the expected identity, allowing the job to
// short-circuit without a network call.
func (s *Scheduler) alreadyComplete(spec internal.DownloadJob) bool {
	if !s.ops.FileExists(spec.Dest) {
		return false
	}
	meta, err := s.sidecars.Read(spec.Dest)
	if err != nil {
		return false
	}
	if spec.MD5 != "" && meta.MD5 != spec.MD5 {
		return false
	}
	if spec.ExpectedSize > 0 {
		size, err := s.ops.FileSize(spec.Dest)
		if err != nil || size != spec.ExpectedSize {
			return false
		}
	}
	return true
}

// fetchToFile streams the remote file to a uniquely named temp path,
// verifies the byte count, and renames into place. The final path is never
// observable in a truncated state: on any failure the temp file is removed
// and the destination untouched.
func (s *Scheduler) fetchToFile(ctx context.Context, spec internal.DownloadJob) (int64, error) {
	if err := s.ops.EnsureDir(spec.Dest); err != nil {
		return 0, err
	}
	tmp := fmt.Sprintf("%s.%s.part", spec.Dest, uuid.NewString())

	resp, err := s.client.Do(ctx, "GET", spec.URL, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// The API-declared size is authoritative; Content-Length only fills in
	// when the API did not state one.
	expected := spec.ExpectedSize
	if expected <= 0 && resp.ContentLength > 0 {
		expected = resp.ContentLength
	}

	file, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}

	written, copyErr := s.copyCounted(ctx, file, resp.Body)
	closeErr := file.Close()

	if copyErr != nil || closeErr != nil {
		s.fs.Remove(tmp)
		if copyErr == nil {
			copyErr = closeErr
		}
		return written, internal.ClassifyTransport("download", copyErr)
	}

	if expected > 0 && written != expected {
		s.fs.Remove(tmp)
		return written, internal.NewIntegrityError("download",
			fmt.Errorf("byte count mismatch: wrote %d, expected %d", written, expected))
	}

	if err := s.ops.AtomicRename(tmp, spec.Dest); err != nil {
		s.fs.Remove(tmp)
		return written, err
	}

	if s.metrics != nil {
		s.metrics.BytesDownloaded.Add(float64(written))
	}
	return written, nil
}

// copyCounted copies with a small buffer, reporting progress and honoring
// cancellation between chunks.
func (s *Scheduler) copyCounted(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-s.ctx.Done():
			return total, s.ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			written, writeErr := dst.Write(buf[:n])
			total += int64(written)
			s.reporter.AddBytes(int64(written))
			if writeErr != nil {
				return total, writeErr
			}
			if written != n {
				return total, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}
