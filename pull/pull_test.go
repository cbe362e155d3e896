package pull_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/arborfs/pull/object"
	"github.com/arborfs/pull/pull"
	"github.com/arborfs/pull/store"
	"github.com/arborfs/pull/store/storetest"
	"github.com/arborfs/pull/transport"
)

// fakeRemote serves one commit, its root tree, root tree metadata and one
// file object, laid out the way archive-z2 lays out /objects.
type fakeRemote struct {
	objects map[string][]byte // path -> body
}

func (r *fakeRemote) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, ok := r.objects[req.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}
}

func objectPath(digest object.Digest, ext string) string {
	hex := digest.String()
	return "/objects/" + hex[:2] + "/" + hex[2:] + "." + ext
}

func TestDriver_Run_SingleCommit(t *testing.T) {
	ctx := context.Background()
	codec, err := object.NewCodec()
	require.NoError(t, err)

	file := object.File{
		Info: object.FileInfo{Mode: 0o644, Size: 5},
		Data: []byte("hello"),
	}
	fileDigest, err := codec.Digest(file)
	require.NoError(t, err)
	fileArchive, err := codec.Archive(file)
	require.NoError(t, err)

	tree := object.DirTree{
		Files: []object.TreeFile{{Name: "hello.txt", FileDigest: fileDigest}},
	}
	treeDigest, err := codec.Digest(tree)
	require.NoError(t, err)
	treeRaw, err := codec.Canonical(tree)
	require.NoError(t, err)

	meta := object.DirMeta{Mode: 0o755}
	metaDigest, err := codec.Digest(meta)
	require.NoError(t, err)
	metaRaw, err := codec.Canonical(meta)
	require.NoError(t, err)

	commit := object.Commit{
		Subject:          "test commit",
		RootTreeDigest:   treeDigest,
		RootTreeMetaHash: metaDigest,
	}
	commitDigest, err := codec.Digest(commit)
	require.NoError(t, err)
	commitRaw, err := codec.Canonical(commit)
	require.NoError(t, err)

	remote := &fakeRemote{objects: map[string][]byte{
		"/config":                                  []byte("core.mode=archive-z2\n"),
		objectPath(commitDigest, "commit"):          commitRaw,
		objectPath(treeDigest, "dirtree"):           treeRaw,
		objectPath(metaDigest, "dirmeta"):           metaRaw,
		objectPath(fileDigest, "filez"):             fileArchive,
		"/refs/heads/main":                          []byte(commitDigest.String() + "\n"),
	}}

	server := httptest.NewServer(remote.handler())
	defer server.Close()

	db := storetest.InMemoryDB(t)
	st, err := store.Open(zerolog.Nop(), db)
	require.NoError(t, err)

	newFetcher := func(base *url.URL) transport.Fetcher {
		return transport.NewHTTPFetcher(zerolog.Nop(), server.Client(), t.TempDir(), 2, 2)
	}

	driver, err := pull.New(zerolog.Nop(), st, newFetcher)
	require.NoError(t, err)

	opts := pull.Options{
		Refs:                []string{"main"},
		BaseURL:             server.URL,
		DisableStaticDeltas: true,
	}

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err = driver.Run(runCtx, opts, t.TempDir())
	require.NoError(t, err)

	stored, err := st.Has(ctx, object.NewName(commitDigest, object.KindCommit))
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = st.Has(ctx, object.NewName(treeDigest, object.KindDirTree))
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = st.Has(ctx, object.NewName(fileDigest, object.KindFile))
	require.NoError(t, err)
	require.True(t, stored)

	resolved, ok, err := st.ResolveRef(ctx, "origin/main")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, commitDigest, resolved)
}

func TestDriver_Run_MissingRefFails(t *testing.T) {
	remote := &fakeRemote{objects: map[string][]byte{
		"/config": []byte("core.mode=archive-z2\n"),
	}}
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	db := storetest.InMemoryDB(t)
	st, err := store.Open(zerolog.Nop(), db)
	require.NoError(t, err)

	newFetcher := func(base *url.URL) transport.Fetcher {
		return transport.NewHTTPFetcher(zerolog.Nop(), server.Client(), t.TempDir(), 1, 1)
	}
	driver, err := pull.New(zerolog.Nop(), st, newFetcher)
	require.NoError(t, err)

	opts := pull.Options{Refs: []string{"missing"}, BaseURL: server.URL, DisableStaticDeltas: true}
	err = driver.Run(context.Background(), opts, t.TempDir())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "missing") || strings.Contains(err.Error(), "branch"))
}
