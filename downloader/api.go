package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"e6grab/cache"
	"e6grab/internal"
	"e6grab/metrics"
	"e6grab/utils"
)

// APIClient talks to the board's JSON API through the response cache. All
// search-path reads flow through GetOrFetch, so repeated identical queries
// inside the TTL window never reach the network.
type APIClient struct {
	client    *utils.Client
	cache     *cache.Cache
	metrics   *metrics.Metrics
	baseURL   string
	blacklist []string
}

// NewAPIClient creates an API client. baseURL must not end with a slash.
func NewAPIClient(client *utils.Client, c *cache.Cache, m *metrics.Metrics, baseURL string, blacklist []string) *APIClient {
	return &APIClient{
		client:    client,
		cache:     c,
		metrics:   m,
		baseURL:   strings.TrimRight(baseURL, "/"),
		blacklist: blacklist,
	}
}

// getJSON fetches an endpoint through the cache and decodes the payload.
func (a *APIClient) getJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) (bool, error) {
	rawURL := a.baseURL + endpoint
	key := cache.Key("GET", rawURL, query)

	data, hit, err := a.cache.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		body, err := a.client.Request(ctx, "GET", rawURL, query)
		if a.metrics != nil {
			a.metrics.APIRequests.WithLabelValues(endpoint, requestOutcome(err)).Inc()
		}
		return body, err
	})
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return hit, internal.NewNetworkError("GET "+endpoint, fmt.Errorf("malformed response: %w", err))
	}
	return hit, nil
}

func requestOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// SearchPosts queries /posts.json for the given tag expression. Posts
// carrying a blacklisted tag are dropped unless the search asked for that
// tag explicitly. Page numbering starts at 1.
func (a *APIClient) SearchPosts(ctx context.Context, tags []string, page, limit int) ([]internal.Post, error) {
	query := url.Values{}
	query.Set("tags", strings.Join(tags, " "))
	query.Set("limit", strconv.Itoa(limit))
	if page > 1 {
		query.Set("page", strconv.Itoa(page))
	}

	var resp internal.PostsResponse
	hit, err := a.getJSON(ctx, "/posts.json", query, &resp)
	if err != nil {
		return nil, err
	}
	internal.LogDebug("search %q page %d: %d posts (cache hit: %v)",
		strings.Join(tags, " "), page, len(resp.Posts), hit)

	return a.filterBlacklisted(resp.Posts, tags), nil
}

// filterBlacklisted drops posts with blacklisted tags. A blacklisted tag
// the user searched for explicitly is exempted for that search.
func (a *APIClient) filterBlacklisted(posts []internal.Post, searched []string) []internal.Post {
	if len(a.blacklist) == 0 {
		return posts
	}

	asked := make(map[string]struct{}, len(searched))
	for _, tag := range searched {
		asked[strings.TrimPrefix(tag, "~")] = struct{}{}
	}
	effective := a.blacklist[:0:0]
	for _, tag := range a.blacklist {
		if _, ok := asked[tag]; !ok {
			effective = append(effective, tag)
		}
	}
	if len(effective) == 0 {
		return posts
	}

	kept := posts[:0:0]
	dropped := 0
	for _, post := range posts {
		if post.Tags.HasAny(effective) {
			dropped++
			continue
		}
		kept = append(kept, post)
	}
	if dropped > 0 {
		internal.LogDebug("blacklist dropped %d of %d posts", dropped, len(posts))
	}
	return kept
}

// GetPost fetches a single post by ID.
func (a *APIClient) GetPost(ctx context.Context, id int64) (*internal.Post, error) {
	var resp internal.PostResponse
	if _, err := a.getJSON(ctx, fmt.Sprintf("/posts/%d.json", id), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Post.ID == 0 {
		return nil, internal.NewHTTPStatusError(fmt.Sprintf("GET /posts/%d.json", id), 404)
	}
	return &resp.Post, nil
}

// postFanOut bounds concurrent post lookups in GetPosts. The connection
// manager's admission gate still applies underneath.
const postFanOut = 4

// GetPosts fetches several posts by ID with bounded fan-out, preserving
// the input order. Missing posts are skipped rather than failing the batch.
func (a *APIClient) GetPosts(ctx context.Context, ids []int64) ([]internal.Post, error) {
	found := make([]*internal.Post, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(postFanOut)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			post, err := a.GetPost(ctx, id)
			if err != nil {
				var ce *internal.ClientError
				if errors.As(err, &ce) && ce.Kind == internal.KindHTTPStatus && ce.Status == 404 {
					internal.LogWarn("post %d not found, skipping", id)
					return nil
				}
				return err
			}
			found[i] = post
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	posts := make([]internal.Post, 0, len(ids))
	for _, post := range found {
		if post != nil {
			posts = append(posts, *post)
		}
	}
	return posts, nil
}

// SearchPools queries /pools.json by name.
func (a *APIClient) SearchPools(ctx context.Context, nameMatch string, limit int) ([]internal.Pool, error) {
	query := url.Values{}
	if nameMatch != "" {
		query.Set("search[name_matches]", nameMatch)
	}
	query.Set("limit", strconv.Itoa(limit))

	var pools []internal.Pool
	if _, err := a.getJSON(ctx, "/pools.json", query, &pools); err != nil {
		return nil, err
	}
	return pools, nil
}

// GetPool fetches one pool by ID.
func (a *APIClient) GetPool(ctx context.Context, id int64) (*internal.Pool, error) {
	var pool internal.Pool
	if _, err := a.getJSON(ctx, fmt.Sprintf("/pools/%d.json", id), nil, &pool); err != nil {
		return nil, err
	}
	if pool.ID == 0 {
		return nil, internal.NewHTTPStatusError(fmt.Sprintf("GET /pools/%d.json", id), 404)
	}
	return &pool, nil
}
