package summary_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborfs/pull/object"
	"github.com/arborfs/pull/pullerr"
	"github.com/arborfs/pull/summary"
)

func TestCodec_EncodeDecodeRoundTrip(t *testing.T) {
	codec, err := summary.NewCodec()
	require.NoError(t, err)

	s := summary.Summary{
		Refs: []summary.Ref{
			{Name: "main", Digest: object.Digest{0x02}, Size: 200},
			{Name: "dev", Digest: object.Digest{0x01}, Size: 100},
		},
	}

	raw, err := codec.Encode(s)
	require.NoError(t, err)

	decoded, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Len(t, decoded.Refs, 2)
	assert.Equal(t, "dev", decoded.Refs[0].Name)
	assert.Equal(t, "main", decoded.Refs[1].Name)
}

func TestSummary_LookupCommit(t *testing.T) {
	s := summary.Summary{
		Refs: []summary.Ref{
			{Name: "dev", Digest: object.Digest{0x01}, Size: 100},
			{Name: "main", Digest: object.Digest{0x02}, Size: 200},
		},
	}

	digest, size, err := s.LookupCommit("main")
	require.NoError(t, err)
	assert.Equal(t, object.Digest{0x02}, digest)
	assert.Equal(t, uint64(200), size)

	_, _, err = s.LookupCommit("missing")
	require.Error(t, err)
	assert.Equal(t, pullerr.KindNotFound, pullerr.KindOf(err))
}

func TestSummary_DeltaKey(t *testing.T) {
	from := object.Digest{0x01}
	to := object.Digest{0x02}

	assert.Equal(t, to.String(), summary.DeltaKey(object.Digest{}, to))
	assert.Equal(t, from.String()+"-"+to.String(), summary.DeltaKey(from, to))
}
