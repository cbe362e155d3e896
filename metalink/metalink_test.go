package metalink_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborfs/pull/metalink"
)

type fakeFetcher struct {
	body []byte
	err  error
}

func (f fakeFetcher) FetchSyncBytes(ctx context.Context, url string) ([]byte, error) {
	return f.body, f.err
}

const sample = `<?xml version="1.0"?>
<metalink version="3.0" xmlns="http://www.metalinker.org/">
  <file name="repo">
    <url priority="2">https://mirror-b.example.com/repo</url>
    <url priority="1">https://mirror-a.example.com/repo</url>
  </file>
</metalink>`

func TestXMLResolver_PicksLowestPriority(t *testing.T) {
	r := metalink.NewXMLResolver(fakeFetcher{body: []byte(sample)})
	base, err := r.Resolve(context.Background(), "https://example.com/repo.meta4")
	require.NoError(t, err)
	assert.Equal(t, "https://mirror-a.example.com/repo", base)
}

func TestXMLResolver_NoFiles(t *testing.T) {
	r := metalink.NewXMLResolver(fakeFetcher{body: []byte(`<metalink></metalink>`)})
	_, err := r.Resolve(context.Background(), "https://example.com/repo.meta4")
	require.Error(t, err)
}
