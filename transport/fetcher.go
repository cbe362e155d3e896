package transport

import "context"

// Priority is the fetch priority class of spec.md §4.4: metadata fetches
// outrank content fetches so the scanner's frontier is never starved.
type Priority uint8

const (
	PriorityMetadata Priority = iota
	PriorityContent
)

// Result is the outcome of one async fetch.
type Result struct {
	// TempPath is the path of a temp file holding the response body. It
	// is populated on success and is the caller's responsibility to
	// unlink once consumed (spec.md invariant 6).
	TempPath string
	// Size is the number of bytes written to TempPath.
	Size int64
	// NotFound is set when the server answered 404; Err is nil in that
	// case.
	NotFound bool
	Err      error
}

// Request describes one object fetch.
type Request struct {
	URL      string
	Priority Priority
	// MaxSize bounds the response size; 0 means unbounded. Exceeding it
	// is a KindInvalidFormat failure (spec.md's "oversized metadata").
	MaxSize int64
}

// Fetcher is the transport collaborator spec.md treats as external. It
// issues synchronous single-URI fetches for the ref-discovery phase and
// asynchronous, priority-aware, byte-accounted fetches for the object
// transfer phase.
type Fetcher interface {
	// FetchSyncBytes blocks until url is fully fetched into memory. A 404
	// response yields a KindNotFound pullerr.Error; callers decide whether
	// that is fatal (it is not for optional resources like `summary`).
	FetchSyncBytes(ctx context.Context, url string) ([]byte, error)

	// FetchSyncString is FetchSyncBytes decoded as UTF-8 text, used for
	// `config` and `/refs/heads/<ref>`.
	FetchSyncString(ctx context.Context, url string) (string, error)

	// FetchAsync enqueues req on the priority class's worker pool and
	// delivers the result on the returned channel exactly once.
	FetchAsync(ctx context.Context, req Request) <-chan Result

	// BytesTransferred returns the cumulative response bytes read across
	// every fetch issued by this Fetcher so far (spec.md §4.7 and §9A).
	BytesTransferred() uint64

	// CurrentSyncURI returns the URI of the synchronous fetch currently
	// blocking the caller, if any, for progress status lines.
	CurrentSyncURI() (string, bool)

	// Close releases pooled resources. HTTPFetcher waits for every
	// FetchAsync request already submitted to run to completion first;
	// GCSFetcher has nothing to release.
	Close()
}
