// Package metalink resolves a metalink XML document (RFC 5854) into a
// base repository URL, per spec.md §1's "discovered via a metalink"
// remote kind. No example repo in the pack parses metalink documents, so
// this is built directly on encoding/xml rather than adapted from a
// third-party metalink library.
package metalink

import (
	"context"
	"encoding/xml"
	"sort"

	"github.com/arborfs/pull/pullerr"
)

// File is one <file> entry of a metalink document.
type File struct {
	Name string `xml:"name,attr"`
	URLs []URL  `xml:"url"`
}

// URL is one mirror URL, with an optional priority (lower sorts first,
// matching the RFC 5854 default of 1 = most preferred).
type URL struct {
	Priority int    `xml:"priority,attr"`
	Value    string `xml:",chardata"`
}

type document struct {
	XMLName xml.Name `xml:"metalink"`
	Files   []File   `xml:"file"`
}

// Resolver fetches and parses a metalink document, returning the
// preferred mirror URL to use as the repository base.
type Resolver interface {
	Resolve(ctx context.Context, metalinkURL string) (string, error)
}

// Fetcher is the narrow collaborator Resolver needs: a synchronous byte
// fetch, satisfied by transport.Fetcher.
type Fetcher interface {
	FetchSyncBytes(ctx context.Context, url string) ([]byte, error)
}

// XMLResolver is the default Resolver.
type XMLResolver struct {
	fetcher Fetcher
}

// NewXMLResolver builds an XMLResolver backed by fetcher.
func NewXMLResolver(fetcher Fetcher) *XMLResolver {
	return &XMLResolver{fetcher: fetcher}
}

// Resolve implements Resolver. When the document lists more than one
// file, the first (in document order) is used, matching the single-repo
// assumption of spec.md §1.
func (r *XMLResolver) Resolve(ctx context.Context, metalinkURL string) (string, error) {
	raw, err := r.fetcher.FetchSyncBytes(ctx, metalinkURL)
	if err != nil {
		return "", err
	}

	var doc document
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return "", pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not parse metalink document")
	}
	if len(doc.Files) == 0 || len(doc.Files[0].URLs) == 0 {
		return "", pullerr.New(pullerr.KindInvalidFormat, "metalink document names no mirror URLs")
	}

	urls := append([]URL(nil), doc.Files[0].URLs...)
	sort.SliceStable(urls, func(i, j int) bool {
		pi, pj := urls[i].Priority, urls[j].Priority
		if pi == 0 {
			pi = 1
		}
		if pj == 0 {
			pj = 1
		}
		return pi < pj
	})

	return urls[0].Value, nil
}
