package internal

import (
	"context"
	"net/url"
)

// Requester performs HTTP requests against the remote board. Implemented
// by the connection manager; safe for concurrent use.
type Requester interface {
	Request(ctx context.Context, method, rawURL string, query url.Values) ([]byte, error)
	CloseIdle()
}

// ResponseCache stores raw API response payloads keyed by request
// signature.
type ResponseCache interface {
	Get(key string) ([]byte, bool)
	Put(key string, payload []byte) error
	Invalidate(key string) error
	Clear() error
}

// SidecarWriter persists per-file post metadata next to downloaded media.
type SidecarWriter interface {
	Write(path string, post Post) error
	Read(path string) (*MediaMetadata, error)
}

// ProgressSink receives coalesced progress events. The UI layer decides
// how to render them.
type ProgressSink interface {
	Progress(ev ProgressEvent)
}

// NopSink discards all progress events.
type NopSink struct{}

// Progress implements ProgressSink.
func (NopSink) Progress(ProgressEvent) {}
