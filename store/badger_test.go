package store_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborfs/pull/object"
	"github.com/arborfs/pull/pullerr"
	"github.com/arborfs/pull/store"
	"github.com/arborfs/pull/store/storetest"
)

func newStore(t *testing.T) *store.Badger {
	t.Helper()
	db := storetest.InMemoryDB(t)
	s, err := store.Open(zerolog.Nop(), db)
	require.NoError(t, err)
	return s
}

func TestBadger_WriteMetadataAndHas(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	codec, err := object.NewCodec()
	require.NoError(t, err)

	meta := object.DirMeta{Mode: 0o755}
	digest, err := codec.Digest(meta)
	require.NoError(t, err)

	raw, err := codec.Canonical(meta)
	require.NoError(t, err)

	name := object.NewName(digest, object.KindDirMeta)

	ok, err := s.Has(ctx, name)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.WriteMetadata(ctx, name, raw)
	require.NoError(t, err)
	assert.Equal(t, digest, got)

	ok, err = s.Has(ctx, name)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := s.LoadDirMeta(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, meta, loaded)
}

func TestBadger_WriteMetadataRejectsMismatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	codec, err := object.NewCodec()
	require.NoError(t, err)

	meta := object.DirMeta{Mode: 0o700}
	raw, err := codec.Canonical(meta)
	require.NoError(t, err)

	wrongDigest := object.Digest{0xFF}
	name := object.NewName(wrongDigest, object.KindDirMeta)

	_, err = s.WriteMetadata(ctx, name, raw)
	require.Error(t, err)
	assert.Equal(t, pullerr.KindIntegrityMismatch, pullerr.KindOf(err))
}

func TestBadger_CommitPartialLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	digest := object.Digest{0x01, 0x02}

	ok, err := s.HasCommitPartial(ctx, digest)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CreateCommitPartial(ctx, digest))
	require.NoError(t, s.CreateCommitPartial(ctx, digest)) // idempotent, EEXIST swallowed

	ok, err = s.HasCommitPartial(ctx, digest)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := s.ListCommitPartials(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteCommitPartial(ctx, digest))
	ok, err = s.HasCommitPartial(ctx, digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadger_Refs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, ok, err := s.ResolveRef(ctx, "origin/main")
	require.NoError(t, err)
	assert.False(t, ok)

	digest := object.Digest{0x42}
	require.NoError(t, s.SetRef(ctx, "origin/main", digest))

	got, ok, err := s.ResolveRef(ctx, "origin/main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, digest, got)
}
