package internal

import "fmt"

// PostsResponse is the envelope returned by the /posts.json endpoint.
type PostsResponse struct {
	Posts []Post `json:"posts"`
}

// PostResponse is the envelope returned by /posts/<id>.json.
type PostResponse struct {
	Post Post `json:"post"`
}

// Post is an immutable snapshot of a remote post. It is constructed by
// deserializing an API response and never mutated afterwards.
type Post struct {
	ID           int64    `json:"id"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
	File         File     `json:"file"`
	Preview      Preview  `json:"preview"`
	Sample       Sample   `json:"sample"`
	Score        Score    `json:"score"`
	Tags         Tags     `json:"tags"`
	Rating       string   `json:"rating"` // s, q or e
	FavCount     int64    `json:"fav_count"`
	Sources      []string `json:"sources"`
	Pools        []int64  `json:"pools"`
	UploaderID   int64    `json:"uploader_id"`
	UploaderName string   `json:"uploader_name"`
	Description  string   `json:"description"`
	CommentCount int64    `json:"comment_count"`
	Duration     *float64 `json:"duration"`
}

// File describes the downloadable media of a post. MD5 is the content
// identity used for idempotent re-download checks.
type File struct {
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
	Ext    string `json:"ext"`
	Size   int64  `json:"size"`
	MD5    string `json:"md5"`
	URL    string `json:"url"`
}

// Preview is the small preview variant of a post's media.
type Preview struct {
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
	URL    string `json:"url"`
}

// Sample is the medium sample variant of a post's media.
type Sample struct {
	Has    bool   `json:"has"`
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
	URL    string `json:"url"`
}

// Score holds the vote totals of a post.
type Score struct {
	Up    int64 `json:"up"`
	Down  int64 `json:"down"`
	Total int64 `json:"total"`
}

// Tags partitions a post's tags by category.
type Tags struct {
	General   []string `json:"general"`
	Artist    []string `json:"artist"`
	Copyright []string `json:"copyright"`
	Character []string `json:"character"`
	Species   []string `json:"species"`
	Invalid   []string `json:"invalid"`
	Meta      []string `json:"meta"`
	Lore      []string `json:"lore"`
}

// All returns every tag of the post across categories.
func (t Tags) All() []string {
	out := make([]string, 0,
		len(t.General)+len(t.Artist)+len(t.Copyright)+len(t.Character)+
			len(t.Species)+len(t.Invalid)+len(t.Meta)+len(t.Lore))
	for _, group := range [][]string{
		t.General, t.Artist, t.Copyright, t.Character,
		t.Species, t.Invalid, t.Meta, t.Lore,
	} {
		out = append(out, group...)
	}
	return out
}

// HasAny reports whether the post carries any of the given tags.
func (t Tags) HasAny(tags []string) bool {
	if len(tags) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
	for _, tag := range t.All() {
		if _, ok := set[tag]; ok {
			return true
		}
	}
	return false
}

// Pool is an ordered collection of posts curated on the remote board.
// The /pools.json endpoint returns a bare array of these.
type Pool struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	CreatorID   int64   `json:"creator_id"`
	CreatorName string  `json:"creator_name"`
	Description string  `json:"description"`
	IsActive    bool    `json:"is_active"`
	Category    string  `json:"category"`
	PostIDs     []int64 `json:"post_ids"`
	PostCount   int64   `json:"post_count"`
}

// MediaMetadata is the sidecar document persisted next to each downloaded
// file. A media file with a sidecar is guaranteed complete; one without a
// sidecar must be treated as untrusted by readers.
type MediaMetadata struct {
	ID            int64    `json:"id"`
	Rating        string   `json:"rating"`
	Score         int64    `json:"score"`
	FavCount      int64    `json:"fav_count"`
	Artists       []string `json:"artists"`
	Tags          []string `json:"tags"`
	CharacterTags []string `json:"character_tags"`
	SpeciesTags   []string `json:"species_tags"`
	CreatedAt     string   `json:"created_at"`
	Pools         []int64  `json:"pools"`
	MD5           string   `json:"md5"`
	FileSize      int64    `json:"file_size"`
}

// MetadataFromPost projects a post into its sidecar representation.
func MetadataFromPost(post Post) MediaMetadata {
	return MediaMetadata{
		ID:            post.ID,
		Rating:        post.Rating,
		Score:         post.Score.Total,
		FavCount:      post.FavCount,
		Artists:       post.Tags.Artist,
		Tags:          post.Tags.General,
		CharacterTags: post.Tags.Character,
		SpeciesTags:   post.Tags.Species,
		CreatedAt:     post.CreatedAt,
		Pools:         post.Pools,
		MD5:           post.File.MD5,
		FileSize:      post.File.Size,
	}
}

// JobStatus is the lifecycle state of a download job.
type JobStatus int

const (
	JobPending JobStatus = iota
	JobInFlight
	JobDone
	JobFailed
)

// String returns the string representation of the job status.
func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "Pending"
	case JobInFlight:
		return "InFlight"
	case JobDone:
		return "Done"
	case JobFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// DownloadJob represents one file to retrieve. Dest is relative to the
// download directory and comes from the filename template.
type DownloadJob struct {
	Post         Post
	URL          string
	Dest         string
	ExpectedSize int64
	MD5          string
}

// JobResult is the terminal outcome of a download job, reported exactly
// once per job in a batch.
type JobResult struct {
	PostID int64
	Dest   string
	Status JobStatus
	Bytes  int64
	// Cached is set when the job completed without a network call because
	// the destination file and its sidecar were already present and valid.
	Cached bool
	Err    error
}

// Reason returns a human-readable failure reason, empty for completed jobs.
func (r JobResult) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// BatchSummary aggregates the outcome of one download batch.
type BatchSummary struct {
	Done   int
	Failed int
	Total  int
	Bytes  int64
}

// String formats the summary for user-facing output.
func (s BatchSummary) String() string {
	return fmt.Sprintf("%d done, %d failed, %d total", s.Done, s.Failed, s.Total)
}

// ProgressEvent is a coalesced snapshot of batch progress emitted to the
// progress sink at a bounded rate.
type ProgressEvent struct {
	Bytes     int64
	Done      int
	Failed    int
	Total     int
	Completed bool
}
