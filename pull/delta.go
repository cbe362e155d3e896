package pull

import (
	"crypto/sha256"
	"os"

	"github.com/arborfs/pull/object"
	"github.com/arborfs/pull/pullerr"
	"github.com/arborfs/pull/summary"
	"github.com/arborfs/pull/transport"
)

// supportedDeltaVersion is the highest static-delta format version this
// processor understands.
const supportedDeltaVersion = 1

// DeltaFallback is one fallback entry of a superblock: an object that
// could not be expressed within the delta and must be fetched as a loose
// object.
type DeltaFallback struct {
	Kind             object.Kind   `cbor:"kind"`
	Digest           object.Digest `cbor:"digest"`
	CompressedSize   uint64        `cbor:"csize"`
	UncompressedSize uint64        `cbor:"usize"`
}

// DeltaHeader describes one numbered delta part.
type DeltaHeader struct {
	Version          uint32        `cbor:"version"`
	PartDigest       object.Digest `cbor:"part_digest"`
	Size             uint64        `cbor:"size"`
	UncompressedSize uint64        `cbor:"usize"`
	Objects          []object.Name `cbor:"objects"`
}

// Superblock is the top-level record of a static delta.
type Superblock struct {
	ToDigest  object.Digest   `cbor:"to"`
	ToCommit  []byte          `cbor:"to_commit"`
	Headers   []DeltaHeader   `cbor:"headers"`
	Fallbacks []DeltaFallback `cbor:"fallbacks"`
}

// deltaPartEntry is one object carried inside a fetched delta part's
// payload, in wire order.
type deltaPartEntry struct {
	Name object.Name `cbor:"name"`
	Data []byte      `cbor:"data"`
}

// requestSuperblock fetches and validates the superblock for the delta
// from "from" (the zero digest when there is no local predecessor) to
// "to". A nil, nil return means the superblock does not exist on the
// remote: the caller falls back to a full object scan of "to".
func (d *Driver) requestSuperblock(from, to object.Digest) (*Superblock, error) {
	fromHex := ""
	if !from.IsZero() {
		fromHex = from.String()
	}
	u := transport.SuperblockURL(d.baseURL, fromHex, to.String())
	raw, err := d.state.fetcher.FetchSyncBytes(d.ctx, u.String())
	if err != nil {
		if pullerr.KindOf(err) == pullerr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}

	if d.state.summary != nil {
		hash := object.Digest(sha256.Sum256(raw))
		expected, ok := d.state.summary.DeltaChecksumFor(from, to)
		if d.state.verifySummary && !ok {
			return nil, pullerr.New(pullerr.KindTrustFailure, "static delta %s has no entry in the summary's checksum table", summary.DeltaKey(from, to))
		}
		if ok && hash != expected {
			return nil, pullerr.New(pullerr.KindIntegrityMismatch, "Invalid checksum for static delta %s", summary.DeltaKey(from, to))
		}
	}

	var sb Superblock
	if err := d.objCodec.Decode(raw, &sb); err != nil {
		return nil, pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not decode static delta superblock")
	}
	return &sb, nil
}

// requestDelta implements spec.md §4.6 phase 2's per-ref delta dance: try
// the superblock first, fall back to a full scan when it is absent.
func (d *Driver) requestDelta(from, to object.Digest, opts Options) {
	sb, err := d.requestSuperblock(from, to)
	if err != nil {
		d.state.latchError(err)
		return
	}
	if sb == nil {
		d.scan(object.NewName(to, object.KindCommit), 0, restrictComponents(opts.Subdir))
		return
	}
	d.processDelta(from, to, sb)
}

// processDelta implements spec.md §4.5's process_delta.
func (d *Driver) processDelta(from, to object.Digest, sb *Superblock) {
	for _, fb := range sb.Fallbacks {
		d.processFallback(fb)
	}

	stored, err := d.state.store.Has(d.ctx, object.NewName(sb.ToDigest, object.KindCommit))
	if err != nil {
		d.state.latchError(err)
		return
	}
	if !stored {
		name := object.NewName(sb.ToDigest, object.KindCommit)
		if err := d.state.store.CreateCommitPartial(d.ctx, sb.ToDigest); err != nil {
			d.state.latchError(err)
			return
		}
		d.state.markCommitPartialCreated(sb.ToDigest)
		d.state.counters.incOutstandingMetaWrites(1)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			digest, err := d.state.store.WriteMetadata(d.ctx, name, sb.ToCommit)
			d.metaOnWriteComplete(name, digest, err)
		}()
	}

	d.state.counters.setDeltaPartsTotal(int64(len(sb.Headers)))
	for i, h := range sb.Headers {
		d.processHeader(from, to, i, h)
	}
}

func (d *Driver) processFallback(fb DeltaFallback) {
	if fb.Kind < object.KindCommit || fb.Kind > object.KindFile {
		d.state.latchError(pullerr.New(pullerr.KindInvalidFormat, "static delta fallback has invalid kind %d", fb.Kind))
		return
	}
	d.state.counters.addDeltaPartSize(int64(fb.CompressedSize))

	name := object.NewName(fb.Digest, fb.Kind)
	stored, err := d.state.store.Has(d.ctx, name)
	if err != nil {
		d.state.latchError(err)
		return
	}
	if stored {
		return
	}

	if fb.Kind == object.KindFile {
		if d.state.requestContent(fb.Digest) {
			d.enqueueContentFetch(fb.Digest)
		}
		return
	}
	if d.state.requestMetadata(name) {
		d.enqueueMetadataFetch(name)
		if fb.Kind == object.KindCommit {
			d.enqueueDetachedMetaFetch(fb.Digest)
		}
	}
}

// processHeader implements spec.md §4.5's per-part handling: skip parts
// whose objects are already all stored, otherwise fetch and verify the
// part at default (metadata) priority since a part commonly gates
// further graph expansion.
func (d *Driver) processHeader(from, to object.Digest, index int, h DeltaHeader) {
	if h.Version > supportedDeltaVersion {
		d.state.latchError(pullerr.New(pullerr.KindProtocolError, "unsupported static delta part version %d", h.Version))
		return
	}
	d.state.counters.addDeltaPartSize(int64(h.Size))

	allStored := true
	for _, name := range h.Objects {
		stored, err := d.state.store.Has(d.ctx, name)
		if err != nil {
			d.state.latchError(err)
			return
		}
		if !stored {
			allStored = false
			break
		}
	}
	if allStored {
		d.state.counters.incDeltaPartsFetched()
		return
	}

	fromHex := ""
	if !from.IsZero() {
		fromHex = from.String()
	}
	u := transport.DeltaPartURL(d.baseURL, fromHex, to.String(), index)

	d.state.counters.incOutstandingContentFetches(1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.deltaPartSem.Acquire(d.ctx, 1); err != nil {
			d.deltaPartOnComplete(h, transport.Result{Err: err})
			return
		}
		defer d.deltaPartSem.Release(1)
		result := <-d.state.fetcher.FetchAsync(d.ctx, transport.Request{URL: u.String(), Priority: transport.PriorityMetadata})
		d.deltaPartOnComplete(h, result)
	}()
}

// deltaPartOnComplete verifies and applies one fetched delta part.
func (d *Driver) deltaPartOnComplete(h DeltaHeader, result transport.Result) {
	d.state.counters.incOutstandingContentFetches(-1)

	if result.NotFound {
		d.state.latchError(pullerr.New(pullerr.KindNotFound, "static delta part %s not found", h.PartDigest))
		return
	}
	if result.Err != nil {
		d.state.latchError(result.Err)
		return
	}

	raw, err := os.ReadFile(result.TempPath)
	os.Remove(result.TempPath)
	if err != nil {
		d.state.latchError(pullerr.Wrap(pullerr.KindStorageError, err, "could not read delta part temp file"))
		return
	}

	digest := object.Digest(sha256.Sum256(raw))
	if digest != h.PartDigest {
		d.state.latchError(pullerr.New(pullerr.KindIntegrityMismatch, "corrupted static delta part: expected %s, got %s", h.PartDigest, digest))
		return
	}

	var entries []deltaPartEntry
	if err := d.objCodec.Decode(raw, &entries); err != nil {
		d.state.latchError(pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not decode static delta part"))
		return
	}

	d.state.counters.incOutstandingDeltaPartWrites(1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.partExecute(entries)
	}()
}

// partExecute implements spec.md §4.5's part_execute_async.
func (d *Driver) partExecute(entries []deltaPartEntry) {
	defer d.state.counters.incOutstandingDeltaPartWrites(-1)

	for _, entry := range entries {
		switch entry.Name.Kind {
		case object.KindFile:
			var file object.File
			if err := d.objCodec.Decode(entry.Data, &file); err != nil {
				d.state.latchError(pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not decode delta-part file object"))
				return
			}
			if _, err := d.state.store.WriteContent(d.ctx, entry.Name.Digest, file); err != nil {
				d.state.latchError(err)
				return
			}
		default:
			digest, err := d.state.store.WriteMetadata(d.ctx, entry.Name, entry.Data)
			if err != nil {
				d.state.latchError(err)
				return
			}
			if digest != entry.Name.Digest {
				d.state.latchError(pullerr.New(pullerr.KindIntegrityMismatch, "corrupted delta-part metadata object: expected %s, got %s", entry.Name.Digest, digest))
				return
			}
			d.scan(entry.Name, 0, nil)
		}
	}
	d.state.counters.incDeltaPartsFetched()
}
