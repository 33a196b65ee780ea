package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"e6grab/internal"
)

// boardServer fakes the remote board: /posts.json serves page-dependent
// posts whose file URLs point back at /data/<id>.png on the same server.
type boardServer struct {
	srv           *httptest.Server
	pages         map[int][]int64
	apiRequests   atomic.Int32
	mediaRequests atomic.Int32
	mediaFailures atomic.Int32
}

func mediaContent(id int64) []byte {
	return []byte(fmt.Sprintf("media-bytes-for-%d", id))
}

func newBoardServer(t *testing.T, pages map[int][]int64) *boardServer {
	t.Helper()
	b := &boardServer{pages: pages}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/posts.json":
			b.apiRequests.Add(1)
			page := 1
			if p := r.URL.Query().Get("page"); p != "" {
				page, _ = strconv.Atoi(p)
			}
			var posts []internal.Post
			for _, id := range b.pages[page] {
				posts = append(posts, b.post(id))
			}
			json.NewEncoder(w).Encode(internal.PostsResponse{Posts: posts})
		case strings.HasPrefix(r.URL.Path, "/data/"):
			b.mediaRequests.Add(1)
			if b.mediaFailures.Load() > 0 {
				b.mediaFailures.Add(-1)
				http.Error(w, "try later", http.StatusServiceUnavailable)
				return
			}
			id, _ := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/data/"), ".png"), 10, 64)
			w.Write(mediaContent(id))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *boardServer) post(id int64) internal.Post {
	content := mediaContent(id)
	return internal.Post{
		ID:     id,
		Rating: "s",
		File: internal.File{
			URL:  fmt.Sprintf("%s/data/%d.png", b.srv.URL, id),
			Ext:  "png",
			Size: int64(len(content)),
			MD5:  fmt.Sprintf("md5-%d", id),
		},
		Tags: internal.Tags{General: []string{"wolf"}},
	}
}

func newTestEngine(t *testing.T, baseURL string, mutate func(*internal.Config)) (*Engine, afero.Fs) {
	t.Helper()
	cfg := internal.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.DownloadDir = "/downloads"
	cfg.Cache.CacheDir = "/cache"
	cfg.PostCount = 20
	cfg.HTTP.MaxConnections = 4
	cfg.Performance.ConcurrentDownloads = 2
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	fs := afero.NewMemMapFs()
	engine, err := NewEngine(cfg, fs, internal.NopSink{})
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine, fs
}

func TestEngineSearchAndDownload(t *testing.T) {
	board := newBoardServer(t, map[int][]int64{1: {101, 102, 103}})
	engine, fs := newTestEngine(t, board.srv.URL, nil)
	ctx := context.Background()

	posts, err := engine.Search(ctx, []string{"wolf"}, 1)
	require.NoError(t, err)
	require.Len(t, posts, 3)

	summary, err := engine.DownloadPosts(ctx, posts)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Done)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 3, summary.Total)

	for _, id := range []int64{101, 102, 103} {
		path := fmt.Sprintf("/downloads/%d.png", id)
		data, err := afero.ReadFile(fs, path)
		require.NoError(t, err)
		assert.Equal(t, mediaContent(id), data)

		meta, err := NewSidecarWriter(fs).Read(path)
		require.NoError(t, err)
		assert.Equal(t, id, meta.ID)
	}
}

func TestEngineRerunIsIdempotent(t *testing.T) {
	board := newBoardServer(t, map[int][]int64{1: {201, 202}})
	engine, _ := newTestEngine(t, board.srv.URL, nil)
	ctx := context.Background()

	posts, err := engine.Search(ctx, []string{"wolf"}, 1)
	require.NoError(t, err)

	first, err := engine.DownloadPosts(ctx, posts)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Done)
	afterFirst := board.mediaRequests.Load()

	second, err := engine.DownloadPosts(ctx, posts)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Done)
	assert.Equal(t, afterFirst, board.mediaRequests.Load(),
		"a re-run over complete files must make no media requests")
	assert.Zero(t, second.Bytes)
}

func TestEngineRetriesTransientFailureOnce(t *testing.T) {
	board := newBoardServer(t, map[int][]int64{1: {301}})
	board.mediaFailures.Store(1) // first media request returns 503
	engine, fs := newTestEngine(t, board.srv.URL, nil)
	ctx := context.Background()

	posts, err := engine.Search(ctx, []string{"wolf"}, 1)
	require.NoError(t, err)

	summary, err := engine.DownloadPosts(ctx, posts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, int32(2), board.mediaRequests.Load())

	exists, _ := afero.Exists(fs, "/downloads/301.png")
	assert.True(t, exists)
}

func TestEngineRetryIsBounded(t *testing.T) {
	board := newBoardServer(t, map[int][]int64{1: {401}})
	board.mediaFailures.Store(100) // never recovers
	engine, fs := newTestEngine(t, board.srv.URL, nil)
	ctx := context.Background()

	posts, err := engine.Search(ctx, []string{"wolf"}, 1)
	require.NoError(t, err)

	summary, err := engine.DownloadPosts(ctx, posts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, int32(2), board.mediaRequests.Load(),
		"a failed job gets exactly one retry")

	exists, _ := afero.Exists(fs, "/downloads/401.png")
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, SidecarPath("/downloads/401.png"))
	assert.False(t, exists, "no sidecar may exist for a failed download")
}

func TestEnginePrefetchWarmsNextPage(t *testing.T) {
	board := newBoardServer(t, map[int][]int64{
		1: {501},
		2: {502, 503},
	})
	engine, fs := newTestEngine(t, board.srv.URL, func(cfg *internal.Config) {
		cfg.Performance.PrefetchEnabled = true
		cfg.Performance.PrefetchBatchSize = 10
	})
	ctx := context.Background()

	select {
	case <-engine.PrefetchNext(ctx, []string{"wolf"}, 2):
	case <-time.After(5 * time.Second):
		t.Fatal("prefetch did not settle")
	}

	for _, id := range []int64{502, 503} {
		ok, _ := afero.Exists(fs, SidecarPath(fmt.Sprintf("/downloads/%d.png", id)))
		require.True(t, ok, "prefetch should land page 2 files on disk")
	}

	apiAfterPrefetch := board.apiRequests.Load()
	mediaAfterPrefetch := board.mediaRequests.Load()

	// paging forward now costs nothing: the page response is cached and
	// every file short-circuits
	posts, err := engine.Search(ctx, []string{"wolf"}, 2)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	summary, err := engine.DownloadPosts(ctx, posts)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Done)

	assert.Equal(t, apiAfterPrefetch, board.apiRequests.Load())
	assert.Equal(t, mediaAfterPrefetch, board.mediaRequests.Load())
}

func TestEnginePrefetchRespectsBatchSize(t *testing.T) {
	board := newBoardServer(t, map[int][]int64{
		2: {601, 602, 603, 604},
	})
	engine, fs := newTestEngine(t, board.srv.URL, func(cfg *internal.Config) {
		cfg.Performance.PrefetchEnabled = true
		cfg.Performance.PrefetchBatchSize = 2
	})

	select {
	case <-engine.PrefetchNext(context.Background(), []string{"wolf"}, 2):
	case <-time.After(5 * time.Second):
		t.Fatal("prefetch did not settle")
	}

	for _, name := range []string{"/downloads/601.png", "/downloads/602.png"} {
		ok, _ := afero.Exists(fs, name)
		require.True(t, ok)
	}

	ok, _ := afero.Exists(fs, "/downloads/603.png")
	assert.False(t, ok, "prefetch must stop at the configured batch size")
	assert.Equal(t, int32(2), board.mediaRequests.Load())
}

func TestEngineDisabledPrefetchIsANoOp(t *testing.T) {
	board := newBoardServer(t, map[int][]int64{2: {701}})
	engine, _ := newTestEngine(t, board.srv.URL, func(cfg *internal.Config) {
		cfg.Performance.PrefetchEnabled = false
	})

	<-engine.PrefetchNext(context.Background(), []string{"wolf"}, 2)

	assert.Zero(t, board.apiRequests.Load())
	assert.Zero(t, board.mediaRequests.Load())
}

func TestEngineSkipsPostsWithoutFiles(t *testing.T) {
	board := newBoardServer(t, map[int][]int64{1: {801}})
	engine, _ := newTestEngine(t, board.srv.URL, nil)
	ctx := context.Background()

	posts, err := engine.Search(ctx, []string{"wolf"}, 1)
	require.NoError(t, err)
	removed := internal.Post{ID: 999} // no file URL

	summary, err := engine.DownloadPosts(ctx, append(posts, removed))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, 1, summary.Total)
}

func TestEngineDownloadBatchStreamsResults(t *testing.T) {
	board := newBoardServer(t, map[int][]int64{1: {851, 852}})
	engine, _ := newTestEngine(t, board.srv.URL, nil)
	ctx := context.Background()

	posts, err := engine.Search(ctx, []string{"wolf"}, 1)
	require.NoError(t, err)

	results, total := engine.DownloadBatch(ctx, posts)
	require.Equal(t, 2, total)

	seen := map[int64]internal.JobStatus{}
	for result := range results {
		seen[result.PostID] = result.Status
	}
	assert.Equal(t, map[int64]internal.JobStatus{
		851: internal.JobDone,
		852: internal.JobDone,
	}, seen)
}

func TestEngineCacheStatsAndClear(t *testing.T) {
	board := newBoardServer(t, map[int][]int64{1: {901}})
	engine, _ := newTestEngine(t, board.srv.URL, nil)
	ctx := context.Background()

	_, err := engine.Search(ctx, []string{"wolf"}, 1)
	require.NoError(t, err)

	count, size := engine.CacheStats()
	assert.Equal(t, 1, count)
	assert.Positive(t, size)

	require.NoError(t, engine.ClearCache())
	count, _ = engine.CacheStats()
	assert.Zero(t, count)
}
