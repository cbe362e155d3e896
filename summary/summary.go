// Package summary implements the signed repository index described in
// spec.md §4.2: refs sorted by name, optional static-delta checksums, and
// arbitrary extra metadata.
package summary

import (
	"sort"

	"github.com/arborfs/pull/object"
	"github.com/arborfs/pull/pullerr"
)

// Ref is one entry of a Summary's ref table.
type Ref struct {
	Name   string                 `cbor:"name"`
	Size   uint64                 `cbor:"size"`
	Digest object.Digest          `cbor:"commit"`
	Extra  map[string]interface{} `cbor:"extra,omitempty"`
}

// Summary is the parsed form of the `summary` object.
type Summary struct {
	Refs          []Ref                    `cbor:"refs"`
	DeltaChecksum map[string]object.Digest `cbor:"static_deltas,omitempty"`
	Extra         map[string]interface{}   `cbor:"extra,omitempty"`
}

// Codec encodes/decodes summaries using the object package's canonical
// cbor codec, so a summary digests and round-trips exactly like any other
// object even though it is not itself content-addressed.
type Codec struct {
	codec *object.Codec
}

// NewCodec builds a summary Codec.
func NewCodec() (*Codec, error) {
	codec, err := object.NewCodec()
	if err != nil {
		return nil, err
	}
	return &Codec{codec: codec}, nil
}

// Encode serializes a summary, sorting refs lexicographically first so
// that LookupCommit's binary search precondition always holds for
// anything this package produces.
func (c *Codec) Encode(s Summary) ([]byte, error) {
	sorted := s
	sorted.Refs = append([]Ref(nil), s.Refs...)
	sort.Slice(sorted.Refs, func(i, j int) bool { return sorted.Refs[i].Name < sorted.Refs[j].Name })
	return c.codec.Canonical(sorted)
}

// Decode parses a `summary` payload and validates its shape per spec.md
// §4.2: refs must be sorted by name, and every static-delta checksum
// must be a 32-byte digest (object.Digest's fixed size enforces the
// latter at the type level, so only sort order needs an explicit check).
func (c *Codec) Decode(raw []byte) (Summary, error) {
	var s Summary
	if err := c.codec.Decode(raw, &s); err != nil {
		return s, pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not decode summary")
	}
	if !sort.SliceIsSorted(s.Refs, func(i, j int) bool { return s.Refs[i].Name < s.Refs[j].Name }) {
		return s, pullerr.New(pullerr.KindInvalidFormat, "summary refs are not sorted")
	}
	return s, nil
}

// LookupCommit binary-searches refs by name, per spec.md §4.2.
func (s Summary) LookupCommit(ref string) (object.Digest, uint64, error) {
	i := sort.Search(len(s.Refs), func(i int) bool { return s.Refs[i].Name >= ref })
	if i >= len(s.Refs) || s.Refs[i].Name != ref {
		return object.Digest{}, 0, pullerr.New(pullerr.KindNotFound, "No such branch: %s", ref)
	}
	return s.Refs[i].Digest, s.Refs[i].Size, nil
}

// DeltaKey builds the lookup key for the static-delta checksum table: the
// "from-to" form when a predecessor commit exists, or just "to" for a
// delta with no "from" (spec.md §4.5).
func DeltaKey(from, to object.Digest) string {
	if from.IsZero() {
		return to.String()
	}
	return from.String() + "-" + to.String()
}

// DeltaChecksumFor looks up the expected checksum for a (from, to) delta.
func (s Summary) DeltaChecksumFor(from, to object.Digest) (object.Digest, bool) {
	d, ok := s.DeltaChecksum[DeltaKey(from, to)]
	return d, ok
}
