package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"e6grab/internal"
	"e6grab/utils"
)

func newTestScheduler(t *testing.T, fs afero.Fs, workers int) *Scheduler {
	t.Helper()
	client, err := utils.NewClient(internal.HTTPConfig{
		PoolMaxIdlePerHost:  4,
		PoolIdleTimeoutSecs: 30,
		TimeoutSecs:         5,
		ConnectTimeoutSecs:  5,
		MaxConnections:      workers + 1,
		UserAgent:           "e6grab-test/1.0",
	})
	require.NoError(t, err)
	t.Cleanup(client.CloseIdle)

	reporter := utils.NewReporter(internal.NopSink{}, 1000)
	s := NewScheduler(client, fs, NewSidecarWriter(fs), workers, reporter, nil)
	t.Cleanup(s.Close)
	return s
}

func mediaJob(url, dest string, content []byte) internal.DownloadJob {
	return internal.DownloadJob{
		Post: internal.Post{
			ID:     7001,
			Rating: "s",
			File:   internal.File{MD5: "cafebabe", Size: int64(len(content)), Ext: "png"},
		},
		URL:          url,
		Dest:         dest,
		ExpectedSize: int64(len(content)),
		MD5:          "cafebabe",
	}
}

func TestSchedulerDownloadsFileAndSidecar(t *testing.T) {
	content := []byte("fake png bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	s := newTestScheduler(t, fs, 2)

	results := make(chan internal.JobResult, 1)
	s.Submit(context.Background(), []internal.DownloadJob{mediaJob(srv.URL, "/dl/7001.png", content)}, false, results)

	result := <-results
	require.NoError(t, result.Err)
	assert.Equal(t, internal.JobDone, result.Status)
	assert.Equal(t, int64(len(content)), result.Bytes)
	assert.False(t, result.Cached)

	data, err := afero.ReadFile(fs, "/dl/7001.png")
	require.NoError(t, err)
	assert.Equal(t, content, data)

	meta, err := NewSidecarWriter(fs).Read("/dl/7001.png")
	require.NoError(t, err)
	assert.Equal(t, int64(7001), meta.ID)
	assert.Equal(t, "cafebabe", meta.MD5)

	assertNoPartFiles(t, fs, "/dl")
}

func TestSchedulerShortCircuitsCompleteFile(t *testing.T) {
	content := []byte("already here")
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(content)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	job := mediaJob(srv.URL, "/dl/7001.png", content)

	// simulate a completed earlier run
	require.NoError(t, afero.WriteFile(fs, job.Dest, content, 0644))
	require.NoError(t, NewSidecarWriter(fs).Write(job.Dest, job.Post))

	s := newTestScheduler(t, fs, 2)
	results := make(chan internal.JobResult, 1)
	s.Submit(context.Background(), []internal.DownloadJob{job}, false, results)

	result := <-results
	require.NoError(t, result.Err)
	assert.Equal(t, internal.JobDone, result.Status)
	assert.True(t, result.Cached)
	assert.Equal(t, int32(0), requests.Load(), "a complete file must not be re-fetched")
}

func TestSchedulerRefetchesOnIdentityMismatch(t *testing.T) {
	content := []byte("fresh content")
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(content)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	job := mediaJob(srv.URL, "/dl/7001.png", content)

	// stale file from a different upload of the same post
	require.NoError(t, afero.WriteFile(fs, job.Dest, []byte("old bytes"), 0644))
	stale := job.Post
	stale.File.MD5 = "00000000"
	require.NoError(t, NewSidecarWriter(fs).Write(job.Dest, stale))

	s := newTestScheduler(t, fs, 1)
	results := make(chan internal.JobResult, 1)
	s.Submit(context.Background(), []internal.DownloadJob{job}, false, results)

	result := <-results
	require.NoError(t, result.Err)
	assert.Equal(t, internal.JobDone, result.Status)
	assert.False(t, result.Cached)
	assert.Equal(t, int32(1), requests.Load())

	data, err := afero.ReadFile(fs, job.Dest)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestSchedulerRejectsTruncatedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	job := mediaJob(srv.URL, "/dl/7001.png", []byte("short"))
	job.ExpectedSize = 100 // API says the file is larger

	s := newTestScheduler(t, fs, 1)
	results := make(chan internal.JobResult, 1)
	s.Submit(context.Background(), []internal.DownloadJob{job}, false, results)

	result := <-results
	assert.Equal(t, internal.JobFailed, result.Status)

	var ce *internal.ClientError
	require.ErrorAs(t, result.Err, &ce)
	assert.Equal(t, internal.KindIntegrity, ce.Kind)

	// neither the destination nor a sidecar nor partials may exist
	exists, _ := afero.Exists(fs, job.Dest)
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, SidecarPath(job.Dest))
	assert.False(t, exists)
	assertNoPartFiles(t, fs, "/dl")
}

func TestSchedulerJoinsDuplicateDestinations(t *testing.T) {
	content := []byte("shared bytes")
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.Write(content)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	s := newTestScheduler(t, fs, 2)

	job := mediaJob(srv.URL, "/dl/7001.png", content)
	results := make(chan internal.JobResult, 2)
	s.Submit(context.Background(), []internal.DownloadJob{job, job}, false, results)

	first := <-results
	second := <-results
	assert.Equal(t, internal.JobDone, first.Status)
	assert.Equal(t, internal.JobDone, second.Status)
	assert.Equal(t, int32(1), requests.Load(), "duplicate destinations must share one download")
}

func TestSchedulerForegroundBeforePrefetch(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/a" {
			<-gate
		}
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	s := newTestScheduler(t, fs, 1)

	jobA := mediaJob(srv.URL+"/a", "/dl/a.png", []byte("x"))
	jobB := mediaJob(srv.URL+"/b", "/dl/b.png", []byte("x"))
	jobC := mediaJob(srv.URL+"/c", "/dl/c.png", []byte("x"))

	results := make(chan internal.JobResult, 3)
	s.Submit(context.Background(), []internal.DownloadJob{jobA}, true, results)
	// wait for the only worker to be inside job A
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, time.Second, 5*time.Millisecond)

	s.Submit(context.Background(), []internal.DownloadJob{jobB}, true, results)
	s.Submit(context.Background(), []internal.DownloadJob{jobC}, false, results)
	close(gate)

	for i := 0; i < 3; i++ {
		result := <-results
		assert.Equal(t, internal.JobDone, result.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/a", "/c", "/b"}, order,
		"the foreground job must run before queued prefetch work")
}

// assertNoPartFiles fails if any temp download file is left under dir.
func assertNoPartFiles(t *testing.T, fs afero.Fs, dir string) {
	t.Helper()
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return
	}
	for _, info := range infos {
		assert.False(t, strings.HasSuffix(info.Name(), ".part"),
			"leftover temp file %s", info.Name())
	}
}
