package transport_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborfs/pull/transport"
)

func TestJoin_PreservesQueryAndAuthority(t *testing.T) {
	base, err := url.Parse("https://example.com/repo?token=abc")
	require.NoError(t, err)

	joined := transport.Join(base, "objects", "ab", "cdef.commit")
	assert.Equal(t, "https", joined.Scheme)
	assert.Equal(t, "example.com", joined.Host)
	assert.Equal(t, "token=abc", joined.RawQuery)
	assert.Equal(t, "/repo/objects/ab/cdef.commit", joined.Path)
}

func TestObjectURL(t *testing.T) {
	base, err := url.Parse("https://example.com/repo")
	require.NoError(t, err)

	digest := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	u := transport.ObjectURL(base, digest, "dirtree")
	assert.Equal(t, "/repo/objects/01/23456789abcdef0123456789abcdef0123456789abcdef0123456789abcd.dirtree", u.Path)
}

func TestSuperblockURL_NoFrom(t *testing.T) {
	base, err := url.Parse("https://example.com/repo")
	require.NoError(t, err)

	to := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	u := transport.SuperblockURL(base, "", to)
	assert.Equal(t, "/repo/deltas/01/23456789abcdef0123456789abcdef0123456789abcdef0123456789abcd/superblock", u.Path)
}

func TestDeltaPartURL(t *testing.T) {
	base, err := url.Parse("https://example.com/repo")
	require.NoError(t, err)

	from := "1111111111111111111111111111111111111111111111111111111111111111"[:64]
	to := "2222222222222222222222222222222222222222222222222222222222222222"[:64]
	u := transport.DeltaPartURL(base, from, to, 3)
	assert.Contains(t, u.Path, "/3")
}
