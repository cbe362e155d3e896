package transport

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/storage"

	"github.com/arborfs/pull/pullerr"
)

// GCSFetcher is an alternate Fetcher for repositories served out of a
// Google Cloud Storage bucket (a `gs://bucket/prefix` base URI), grounded
// on the teacher's bucket/gcp.Reader. Unlike the HTTP fetcher it has no
// notion of metadata/content pools: GCS object reads are cheap to fan out
// and bucket-side concurrency limits, not local worker counts, are what
// matters, so every FetchAsync request runs in its own goroutine.
type GCSFetcher struct {
	bucket *storage.BucketHandle
	prefix string
	tmpDir string

	bytesTransferred uint64

	mu      sync.Mutex
	syncURI string
	inSync  bool
}

// NewGCSFetcher builds a GCSFetcher rooted at prefix within bucket.
func NewGCSFetcher(bucket *storage.BucketHandle, prefix string, tmpDir string) *GCSFetcher {
	return &GCSFetcher{
		bucket: bucket,
		prefix: strings.TrimPrefix(prefix, "/"),
		tmpDir: tmpDir,
	}
}

func (f *GCSFetcher) object(uri string) (*storage.ObjectHandle, string) {
	name := strings.TrimPrefix(uri, "/")
	if f.prefix != "" {
		name = f.prefix + "/" + name
	}
	return f.bucket.Object(name), uri
}

// FetchSyncBytes implements Fetcher.
func (f *GCSFetcher) FetchSyncBytes(ctx context.Context, uri string) ([]byte, error) {
	f.setSyncURI(uri)
	defer f.clearSyncURI()

	obj, _ := f.object(uri)
	r, err := obj.NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return nil, pullerr.New(pullerr.KindNotFound, "%s not found", uri)
	}
	if err != nil {
		return nil, pullerr.Wrap(pullerr.KindNetwork, err, "could not open %s", uri)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, pullerr.Wrap(pullerr.KindNetwork, err, "could not read %s", uri)
	}
	atomic.AddUint64(&f.bytesTransferred, uint64(len(data)))
	return data, nil
}

// FetchSyncString implements Fetcher.
func (f *GCSFetcher) FetchSyncString(ctx context.Context, uri string) (string, error) {
	data, err := f.FetchSyncBytes(ctx, uri)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FetchAsync implements Fetcher.
func (f *GCSFetcher) FetchAsync(ctx context.Context, req Request) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		out <- f.doFetch(ctx, req)
	}()
	return out
}

func (f *GCSFetcher) doFetch(ctx context.Context, req Request) Result {
	obj, _ := f.object(req.URL)
	r, err := obj.NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return Result{NotFound: true}
	}
	if err != nil {
		return Result{Err: pullerr.Wrap(pullerr.KindNetwork, err, "could not open %s", req.URL)}
	}
	defer r.Close()

	tmp, err := os.CreateTemp(f.tmpDir, "arbor-fetch-*")
	if err != nil {
		return Result{Err: pullerr.Wrap(pullerr.KindStorageError, err, "could not create temp file")}
	}
	defer tmp.Close()

	var body io.Reader = r
	if req.MaxSize > 0 {
		body = io.LimitReader(r, req.MaxSize+1)
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
func (f *GCSFetcher) BytesTransferred() uint64 {
	return atomic.LoadUint64(&f.bytesTransferred)
}

// CurrentSyncURI implements Fetcher.
func (f *GCSFetcher) CurrentSyncURI() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncURI, f.inSync
}

func (f *GCSFetcher) setSyncURI(uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncURI = uri
	f.inSync = true
}

func (f *GCSFetcher) clearSyncURI() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inSync = false
}

// Close implements Fetcher. GCS reads have no pooled resources to release.
func (f *GCSFetcher) Close() {}
