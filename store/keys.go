package store

import "github.com/arborfs/pull/object"

// Key prefixes, following the single-byte prefix scheme of
// service/storage/prefixes.go.
const (
	prefixObject        byte = 1
	prefixDetachedMeta  byte = 2
	prefixCommitPartial byte = 3
	prefixRef           byte = 4
	prefixSummary       byte = 5
	prefixSummarySig    byte = 6
)

func encodeKey(prefix byte, segments ...[]byte) []byte {
	key := make([]byte, 1, 1+totalLen(segments))
	key[0] = prefix
	for _, s := range segments {
		key = append(key, s...)
	}
	return key
}

func totalLen(segments [][]byte) int {
	n := 0
	for _, s := range segments {
		n += len(s)
	}
	return n
}

func objectKey(name object.Name) []byte {
	return encodeKey(prefixObject, []byte{byte(name.Kind)}, name.Digest[:])
}

func detachedMetaKey(digest object.Digest) []byte {
	return encodeKey(prefixDetachedMeta, digest[:])
}

func commitPartialKey(digest object.Digest) []byte {
	return encodeKey(prefixCommitPartial, digest[:])
}

func refKey(ref string) []byte {
	return encodeKey(prefixRef, []byte(ref))
}

func summaryKey() []byte {
	return []byte{prefixSummary}
}

func summarySigKey() []byte {
	return []byte{prefixSummarySig}
}
