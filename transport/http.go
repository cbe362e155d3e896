package transport

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"

	"github.com/arborfs/pull/pullerr"
)

// HTTPFetcher is the default Fetcher, grounded on the teacher's use of
// bounded worker pools (gammazero/workerpool, also vendored by
// service/mapper's sibling packages) for concurrency control. Metadata
// and content requests run on two independently-sized pools, which is
// what gives metadata fetches priority over content fetches: a saturated
// content pool never delays a metadata submission.
type HTTPFetcher struct {
	log    zerolog.Logger
	client *http.Client
	tmpDir string

	metadataPool *workerpool.WorkerPool
	contentPool  *workerpool.WorkerPool

	bytesTransferred uint64

	mu      sync.Mutex
	syncURI string
	inSync  bool
}

// NewHTTPFetcher builds an HTTPFetcher. metadataConcurrency and
// contentConcurrency bound the number of in-flight requests per class.
func NewHTTPFetcher(log zerolog.Logger, client *http.Client, tmpDir string, metadataConcurrency, contentConcurrency int) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := HTTPFetcher{
		log:          log.With().Str("component", "http-fetcher").Logger(),
		client:       client,
		tmpDir:       tmpDir,
		metadataPool: workerpool.New(metadataConcurrency),
		contentPool:  workerpool.New(contentConcurrency),
	}
	return &f
}

// FetchSyncBytes implements Fetcher.
func (f *HTTPFetcher) FetchSyncBytes(ctx context.Context, url string) ([]byte, error) {
	f.setSyncURI(url)
	defer f.clearSyncURI()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pullerr.Wrap(pullerr.KindNetwork, err, "could not build request for %s", url)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, pullerr.Wrap(pullerr.KindNetwork, err, "could not fetch %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pullerr.New(pullerr.KindNotFound, "%s not found", url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pullerr.New(pullerr.KindNetwork, "unexpected status %d fetching %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pullerr.Wrap(pullerr.KindNetwork, err, "could not read body of %s", url)
	}
	atomic.AddUint64(&f.bytesTransferred, uint64(len(data)))
	return data, nil
}

// FetchSyncString implements Fetcher.
func (f *HTTPFetcher) FetchSyncString(ctx context.Context, url string) (string, error) {
	data, err := f.FetchSyncBytes(ctx, url)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FetchAsync implements Fetcher.
func (f *HTTPFetcher) FetchAsync(ctx context.Context, req Request) <-chan Result {
	out := make(chan Result, 1)

	pool := f.metadataPool
	if req.Priority == PriorityContent {
		pool = f.contentPool
	}

	pool.Submit(func() {
		out <- f.doFetch(ctx, req)
	})

	return out
}

func (f *HTTPFetcher) doFetch(ctx context.Context, req Request) Result {
	select {
	case <-ctx.Done():
		return Result{Err: pullerr.Wrap(pullerr.KindCancelled, ctx.Err(), "fetch cancelled")}
	default:
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Result{Err: pullerr.Wrap(pullerr.KindNetwork, err, "could not build request for %s", req.URL)}
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return Result{Err: pullerr.Wrap(pullerr.KindNetwork, err, "could not fetch %s", req.URL)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Result{NotFound: true}
	}
	if resp.StatusCode != http.StatusOK {
		return Result{Err: pullerr.New(pullerr.KindNetwork, "unexpected status %d fetching %s", resp.StatusCode, req.URL)}
	}

	tmp, err := os.CreateTemp(f.tmpDir, "arbor-fetch-*")
	if err != nil {
		return Result{Err: pullerr.Wrap(pullerr.KindStorageError, err, "could not create temp file")}
	}
	defer tmp.Close()

	var body io.Reader = resp.Body
	if req.MaxSize > 0 {
		body = io.LimitReader(resp.Body, req.MaxSize+1)
	}

	n, err := io.Copy(tmp, body)
	if err != nil {
		os.Remove(tmp.Name())
		return Result{Err: pullerr.Wrap(pullerr.KindNetwork, err, "could not download %s", req.URL)}
	}
	if req.MaxSize > 0 && n > req.MaxSize {
		os.Remove(tmp.Name())
		return Result{Err: pullerr.New(pullerr.KindInvalidFormat, "object at %s exceeds maximum size of %d bytes", req.URL, req.MaxSize)}
	}

	atomic.AddUint64(&f.bytesTransferred, uint64(n))
	return Result{TempPath: tmp.Name(), Size: n}
}

// BytesTransferred implements Fetcher.
func (f *HTTPFetcher) BytesTransferred() uint64 {
	return atomic.LoadUint64(&f.bytesTransferred)
}

// CurrentSyncURI implements Fetcher.
func (f *HTTPFetcher) CurrentSyncURI() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncURI, f.inSync
}

func (f *HTTPFetcher) setSyncURI(uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncURI = uri
	f.inSync = true
}

func (f *HTTPFetcher) clearSyncURI() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inSync = false
}

// Close implements Fetcher.
func (f *HTTPFetcher) Close() {
	f.metadataPool.StopWait()
	f.contentPool.StopWait()
}
