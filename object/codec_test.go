package object_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborfs/pull/object"
)

func TestCodec_DigestIsDeterministic(t *testing.T) {
	codec, err := object.NewCodec()
	require.NoError(t, err)

	tree := object.DirTree{
		Files: []object.TreeFile{
			{Name: "b", FileDigest: object.Digest{0x02}},
			{Name: "a", FileDigest: object.Digest{0x01}},
		},
	}

	d1, err := codec.Digest(tree)
	require.NoError(t, err)
	d2, err := codec.Digest(tree)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.NotEqual(t, object.Digest{}, d1)
}

func TestCodec_ArchiveRoundTrip(t *testing.T) {
	codec, err := object.NewCodec()
	require.NoError(t, err)

	file := object.File{
		Info: object.FileInfo{Mode: 0o644, Size: 5},
		Data: []byte("hello"),
	}

	archived, err := codec.Archive(file)
	require.NoError(t, err)

	restored, err := codec.Unarchive(archived)
	require.NoError(t, err)

	assert.Equal(t, file.Data, restored.Data)
	assert.Equal(t, file.Info, restored.Info)
}

func TestCodec_DigestChangesWithContent(t *testing.T) {
	codec, err := object.NewCodec()
	require.NoError(t, err)

	a := object.DirMeta{Mode: 0o755}
	b := object.DirMeta{Mode: 0o700}

	da, err := codec.Digest(a)
	require.NoError(t, err)
	db, err := codec.Digest(b)
	require.NoError(t, err)

	assert.NotEqual(t, da, db)
}
