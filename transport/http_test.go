package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborfs/pull/pullerr"
	"github.com/arborfs/pull/transport"
)

func newTestFetcher(t *testing.T, srv *httptest.Server) *transport.HTTPFetcher {
	t.Helper()
	f := transport.NewHTTPFetcher(zerolog.Nop(), srv.Client(), t.TempDir(), 2, 2)
	t.Cleanup(f.Close)
	return f
}

func TestHTTPFetcher_FetchSyncBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv)
	data, err := f.FetchSyncBytes(context.Background(), srv.URL+"/config")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, uint64(len("hello world")), f.BytesTransferred())
}

func TestHTTPFetcher_FetchSyncBytes_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv)
	_, err := f.FetchSyncBytes(context.Background(), srv.URL+"/summary.sig")
	require.Error(t, err)
	assert.Equal(t, pullerr.KindNotFound, pullerr.KindOf(err))
}

func TestHTTPFetcher_FetchAsync_WritesTempFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("object body"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv)
	ch := f.FetchAsync(context.Background(), transport.Request{URL: srv.URL + "/objects/ab/cd.filez", Priority: transport.PriorityContent})
	res := <-ch
	require.NoError(t, res.Err)
	require.False(t, res.NotFound)
	defer os.Remove(res.TempPath)

	got, err := os.ReadFile(res.TempPath)
	require.NoError(t, err)
	assert.Equal(t, "object body", string(got))
	assert.EqualValues(t, len("object body"), res.Size)
}

func TestHTTPFetcher_FetchAsync_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv)
	ch := f.FetchAsync(context.Background(), transport.Request{URL: srv.URL + "/objects/ab/cd.dirtree", Priority: transport.PriorityMetadata})
	res := <-ch
	require.NoError(t, res.Err)
	assert.True(t, res.NotFound)
}

func TestHTTPFetcher_FetchAsync_ExceedsMaxSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 128))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv)
	ch := f.FetchAsync(context.Background(), transport.Request{URL: srv.URL + "/objects/ab/cd.commit", Priority: transport.PriorityMetadata, MaxSize: 16})
	res := <-ch
	require.Error(t, res.Err)
	assert.Equal(t, pullerr.KindInvalidFormat, pullerr.KindOf(res.Err))
}

func TestHTTPFetcher_CurrentSyncURI(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv)
	done := make(chan struct{})
	go func() {
		f.FetchSyncBytes(context.Background(), srv.URL+"/summary")
		close(done)
	}()

	require.Eventually(t, func() bool {
		uri, ok := f.CurrentSyncURI()
		return ok && uri == srv.URL+"/summary"
	}, time.Second, 10*time.Millisecond, "sync URI never observed")

	close(block)
	<-done
}
