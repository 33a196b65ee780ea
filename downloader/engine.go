package downloader

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"e6grab/cache"
	"e6grab/internal"
	"e6grab/metrics"
	"e6grab/utils"
)

// retryDelay is the fixed pause before the single retry of a retryable
// failed job.
const retryDelay = 500 * time.Millisecond

// Engine ties the API client, response cache, download scheduler and
// sidecar writer together behind one facade. One engine instance serves a
// whole process.
type Engine struct {
	cfg      *internal.Config
	fs       afero.Fs
	client   *utils.Client
	cache    *cache.Cache
	api      *APIClient
	sched    *Scheduler
	sidecars *SidecarWriter
	preload  *Preloader
	reporter *utils.Reporter
	metrics  *metrics.Metrics
}

// NewEngine builds an engine from validated configuration. The progress
// sink receives coalesced batch progress; pass internal.NopSink to discard.
func NewEngine(cfg *internal.Config, fs afero.Fs, sink internal.ProgressSink) (*Engine, error) {
	client, err := utils.NewClient(cfg.HTTP)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	respCache, err := cache.Open(fs, cfg.Cache, m)
	if err != nil {
		return nil, err
	}

	reporter := utils.NewReporter(sink, cfg.UI.ProgressRefreshRate)
	sidecars := NewSidecarWriter(fs)
	sched := NewScheduler(client, fs, sidecars, cfg.Performance.ConcurrentDownloads, reporter, m)

	var preloadBudget int64
	if cfg.Performance.PreloadImages {
		preloadBudget = cfg.Performance.MaxPreloadSizeMB * 1024 * 1024
	}

	return &Engine{
		cfg:      cfg,
		fs:       fs,
		client:   client,
		cache:    respCache,
		api:      NewAPIClient(client, respCache, m, cfg.BaseURL, cfg.Blacklist),
		sched:    sched,
		sidecars: sidecars,
		preload:  NewPreloader(preloadBudget),
		reporter: reporter,
		metrics:  m,
	}, nil
}

// Close tears the engine down. Pending prefetch work is abandoned.
func (e *Engine) Close() {
	e.sched.Close()
	e.client.CloseIdle()
}

// Search returns one page of posts for a tag expression.
func (e *Engine) Search(ctx context.Context, tags []string, page int) ([]internal.Post, error) {
	return e.api.SearchPosts(ctx, tags, page, e.cfg.PostCount)
}

// Post fetches a single post by ID.
func (e *Engine) Post(ctx context.Context, id int64) (*internal.Post, error) {
	return e.api.GetPost(ctx, id)
}

// Posts fetches several posts by ID with bounded fan-out.
func (e *Engine) Posts(ctx context.Context, ids []int64) ([]internal.Post, error) {
	return e.api.GetPosts(ctx, ids)
}

// Pool fetches a pool and its posts in pool order.
func (e *Engine) Pool(ctx context.Context, id int64) (*internal.Pool, []internal.Post, error) {
	pool, err := e.api.GetPool(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	posts, err := e.api.GetPosts(ctx, pool.PostIDs)
	if err != nil {
		return nil, nil, err
	}
	return pool, posts, nil
}

// Pools searches pools by name.
func (e *Engine) Pools(ctx context.Context, nameMatch string, limit int) ([]internal.Pool, error) {
	return e.api.SearchPools(ctx, nameMatch, limit)
}

// buildJobs maps posts onto download jobs via the filename template. Posts
// without a file URL (removed media) are skipped.
func (e *Engine) buildJobs(posts []internal.Post) []internal.DownloadJob {
	jobs := make([]internal.DownloadJob, 0, len(posts))
	for _, post := range posts {
		if post.File.URL == "" {
			internal.LogWarn("post %d has no downloadable file, skipping", post.ID)
			continue
		}
		rel, err := utils.ExpandTemplate(e.cfg.OutputFormat, post)
		if err != nil {
			internal.LogWarn("post %d: bad destination from template: %v", post.ID, err)
			continue
		}
		jobs = append(jobs, internal.DownloadJob{
			Post:         post,
			URL:          post.File.URL,
			Dest:         filepath.Join(e.cfg.DownloadDir, rel),
			ExpectedSize: post.File.Size,
			MD5:          post.File.MD5,
		})
	}
	return jobs
}

// DownloadBatch downloads a batch of posts with bounded concurrency and
// streams one final result per job. A failed job with a retryable error is
// resubmitted exactly once after a fixed delay before its result is
// emitted. The returned channel is closed once every job has a terminal
// outcome; the int is the number of jobs accepted from the batch.
func (e *Engine) DownloadBatch(ctx context.Context, posts []internal.Post) (<-chan internal.JobResult, int) {
	jobs := e.buildJobs(posts)
	out := make(chan internal.JobResult, len(jobs))
	if len(jobs) == 0 {
		close(out)
		return out, 0
	}

	e.reporter.AddTotal(len(jobs))

	byID := make(map[int64]internal.DownloadJob, len(jobs))
	for _, j := range jobs {
		byID[j.Post.ID] = j
	}

	// Capacity covers first attempts plus every possible retry, so workers
	// never block delivering results.
	inner := make(chan internal.JobResult, 2*len(jobs))
	e.sched.Submit(ctx, jobs, false, inner)

	go func() {
		defer close(out)
		defer e.reporter.Finish()

		retried := make(map[int64]bool, len(jobs))
		remaining := len(jobs)
		for remaining > 0 {
			result := <-inner

			if result.Status == internal.JobFailed && !retried[result.PostID] && internal.IsRetryable(result.Err) {
				retried[result.PostID] = true
				internal.LogInfo("retrying post %d after %v: %v", result.PostID, retryDelay, result.Err)
				job := byID[result.PostID]
				go func() {
					select {
					case <-time.After(retryDelay):
					case <-ctx.Done():
					}
					e.sched.Submit(ctx, []internal.DownloadJob{job}, false, inner)
				}()
				continue
			}

			remaining--
			if result.Status == internal.JobDone {
				e.reporter.JobDone()
				e.maybePreload(result)
			} else {
				e.reporter.JobFailed()
			}
			out <- result
		}
	}()

	return out, len(jobs)
}

// DownloadPosts runs a batch to completion and aggregates the outcome.
func (e *Engine) DownloadPosts(ctx context.Context, posts []internal.Post) (internal.BatchSummary, error) {
	results, total := e.DownloadBatch(ctx, posts)
	summary := internal.BatchSummary{Total: total}
	for result := range results {
		if result.Status == internal.JobDone {
			summary.Done++
			summary.Bytes += result.Bytes
		} else {
			summary.Failed++
		}
	}
	if total > 0 {
		internal.LogInfo("batch finished: %s (%d bytes)", summary.String(), summary.Bytes)
	}
	return summary, nil
}

// maybePreload pulls freshly downloaded media into the in-memory preload
// buffer when preloading is enabled.
func (e *Engine) maybePreload(result internal.JobResult) {
	if !e.cfg.Performance.PreloadImages || result.Cached {
		return
	}
	data, err := afero.ReadFile(e.fs, result.Dest)
	if err != nil {
		return
	}
	e.preload.Add(result.PostID, data)
}

// PrefetchNext warms the next result page: the page's API response enters
// the cache and the first prefetch_batch_size files are queued at
// background priority. Job outcomes are discarded; a later foreground
// download of the same file joins the in-flight job or short-circuits on
// the completed one. The returned channel closes once the prefetch batch
// has settled, so callers may wait or walk away.
func (e *Engine) PrefetchNext(ctx context.Context, tags []string, nextPage int) <-chan struct{} {
	done := make(chan struct{})
	if !e.cfg.Performance.PrefetchEnabled {
		close(done)
		return done
	}

	posts, err := e.api.SearchPosts(ctx, tags, nextPage, e.cfg.PostCount)
	if err != nil {
		internal.LogDebug("prefetch of page %d failed: %v", nextPage, err)
		close(done)
		return done
	}
	if len(posts) > e.cfg.Performance.PrefetchBatchSize {
		posts = posts[:e.cfg.Performance.PrefetchBatchSize]
	}

	jobs := e.buildJobs(posts)
	if len(jobs) == 0 {
		close(done)
		return done
	}

	drain := make(chan internal.JobResult, len(jobs))
	e.sched.Submit(context.Background(), jobs, true, drain)
	go func() {
		defer close(done)
		for range jobs {
			<-drain
		}
	}()
	internal.LogDebug("prefetch queued %d jobs for page %d", len(jobs), nextPage)
	return done
}

// Preloaded returns in-memory media bytes for a post, if resident.
func (e *Engine) Preloaded(postID int64) ([]byte, bool) {
	return e.preload.Get(postID)
}

// ClearCache drops every response cache entry.
func (e *Engine) ClearCache() error {
	return e.cache.Clear()
}

// CacheStats returns the response cache entry count and byte size.
func (e *Engine) CacheStats() (int, int64) {
	return e.cache.Stats()
}
