// Package transport implements the HTTP/GCS fetcher collaborator spec.md
// treats as external: the URL composer of §4.1, the synchronous fetch
// helpers of §4.2, and the async, priority-aware fetch pipeline backing
// of §4.4.
package transport

import (
	"net/url"
	"strconv"
	"strings"
)

// Join builds a new URL by appending path segments to base's path,
// preserving scheme, authority and query, per spec.md §4.1. Segments are
// joined with a single "/" without collapsing a leading "." in any
// segment, and are assumed pre-encoded by the caller.
func Join(base *url.URL, segments ...string) *url.URL {
	joined := *base
	path := strings.TrimSuffix(joined.Path, "/")
	for _, seg := range segments {
		path += "/" + seg
	}
	joined.Path = path
	joined.RawPath = ""
	return &joined
}

// ObjectURL builds the `/objects/<d[:2]>/<d[2:]>.<ext>` URL of spec.md §6.
func ObjectURL(base *url.URL, digestHex, ext string) *url.URL {
	return Join(base, "objects", digestHex[:2], digestHex[2:]+"."+ext)
}

// DetachedMetaURL builds the `/objects/<d[:2]>/<d[2:]>.commitmeta` URL.
func DetachedMetaURL(base *url.URL, digestHex string) *url.URL {
	return Join(base, "objects", digestHex[:2], digestHex[2:]+".commitmeta")
}

// RefURL builds the `/refs/heads/<ref>` URL.
func RefURL(base *url.URL, ref string) *url.URL {
	return Join(base, "refs", "heads", ref)
}

// SummaryURL builds the `/summary` URL.
func SummaryURL(base *url.URL) *url.URL {
	return Join(base, "summary")
}

// SummarySigURL builds the `/summary.sig` URL.
func SummarySigURL(base *url.URL) *url.URL {
	return Join(base, "summary.sig")
}

// ConfigURL builds the `/config` URL.
func ConfigURL(base *url.URL) *url.URL {
	return Join(base, "config")
}

// SuperblockURL builds the static-delta superblock URL of spec.md §4.5.
// When from is empty, the path omits the "from-" half entirely.
func SuperblockURL(base *url.URL, fromHex, toHex string) *url.URL {
	if fromHex == "" {
		return Join(base, "deltas", toHex[:2], toHex[2:], "superblock")
	}
	return Join(base, "deltas", fromHex[:2], fromHex[2:]+"-"+toHex, "superblock")
}

// DeltaPartURL builds the URL of one numbered delta part.
func DeltaPartURL(base *url.URL, fromHex, toHex string, index int) *url.URL {
	sb := SuperblockURL(base, fromHex, toHex)
	dir := strings.TrimSuffix(sb.Path, "/superblock")
	part := *sb
	part.Path = dir + "/" + strconv.Itoa(index)
	return &part
}
