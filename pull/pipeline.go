package pull

import (
	"os"

	"github.com/arborfs/pull/object"
	"github.com/arborfs/pull/pullerr"
	"github.com/arborfs/pull/transport"
)

// enqueueMetadataFetch implements enqueue_one_object_request (spec.md
// §4.4) for a metadata object (commit, dir-tree or dir-meta).
func (d *Driver) enqueueMetadataFetch(name object.Name) {
	ext, err := name.Kind.Extension(d.archiveCompressed)
	if err != nil {
		d.state.latchError(pullerr.Wrap(pullerr.KindInvalidFormat, err, "cannot build URL for %s", name))
		return
	}
	u := transport.ObjectURL(d.baseURL, name.Digest.String(), ext)
	maxSize := int64(maxMetadataSize)
	if name.Kind == object.KindCommit {
		if size, ok := d.state.expectedCommitSize[name.Digest]; ok {
			maxSize = size
		}
	}

	d.state.counters.incOutstandingMetaFetches(1)
	d.state.counters.incRequestedMeta()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		result := <-d.state.fetcher.FetchAsync(d.ctx, transport.Request{URL: u.String(), Priority: transport.PriorityMetadata, MaxSize: maxSize})
		d.metaOnComplete(name, false, result)
	}()
}

// enqueueDetachedMetaFetch implements the "enqueue detached metadata
// fetch variant" step of spec.md §4.3 for a commit. It is independent of
// any fetch of the commit object itself: the sidecar either exists and is
// written, or it doesn't and there is nothing more to do.
func (d *Driver) enqueueDetachedMetaFetch(commit object.Digest) {
	u := transport.DetachedMetaURL(d.baseURL, commit.String())

	d.state.counters.incOutstandingMetaFetches(1)
	d.state.counters.incRequestedMeta()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		result := <-d.state.fetcher.FetchAsync(d.ctx, transport.Request{URL: u.String(), Priority: transport.PriorityMetadata, MaxSize: maxMetadataSize})
		d.metaOnComplete(object.NewName(commit, object.KindCommit), true, result)
	}()
}

// enqueueContentFetch implements enqueue_one_object_request for a file.
func (d *Driver) enqueueContentFetch(digest object.Digest) {
	ext, _ := object.KindFile.Extension(d.archiveCompressed)
	u := transport.ObjectURL(d.baseURL, digest.String(), ext)

	d.state.counters.incOutstandingContentFetches(1)
	d.state.counters.incRequestedContent()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		result := <-d.state.fetcher.FetchAsync(d.ctx, transport.Request{URL: u.String(), Priority: transport.PriorityContent})
		d.contentOnComplete(digest, result)
	}()
}

// metaOnComplete implements spec.md §4.4's meta_on_complete. A detached
// fetch (the .commitmeta sidecar) never affects the primary object fetch:
// a missing sidecar is not an error, and a sidecar write does not gate or
// retrigger a fetch of the commit it decorates.
func (d *Driver) metaOnComplete(name object.Name, detached bool, result transport.Result) {
	d.state.counters.incOutstandingMetaFetches(-1)

	if result.NotFound {
		if detached {
			return
		}
		d.state.latchError(pullerr.New(pullerr.KindNotFound, "object %s not found on remote", name))
		return
	}
	if result.Err != nil {
		d.state.latchError(result.Err)
		return
	}

	d.state.counters.incFetchedMeta()

	raw, err := os.ReadFile(result.TempPath)
	os.Remove(result.TempPath)
	if err != nil {
		d.state.latchError(pullerr.Wrap(pullerr.KindStorageError, err, "could not read temp file for %s", name))
		return
	}

	if detached {
		if err := d.state.store.WriteDetachedMetadata(d.ctx, name.Digest, raw); err != nil {
			d.state.latchError(err)
		}
		return
	}

	if name.Kind == object.KindCommit {
		if err := d.state.store.CreateCommitPartial(d.ctx, name.Digest); err != nil {
			d.state.latchError(err)
			return
		}
		d.state.markCommitPartialCreated(name.Digest)
	}

	d.state.counters.incOutstandingMetaWrites(1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		digest, err := d.state.store.WriteMetadata(d.ctx, name, raw)
		d.metaOnWriteComplete(name, digest, err)
	}()
}

// metaOnWriteComplete implements spec.md §4.4's meta_on_write_complete.
func (d *Driver) metaOnWriteComplete(name object.Name, digest object.Digest, err error) {
	d.state.counters.incOutstandingMetaWrites(-1)
	if err != nil {
		d.state.latchError(err)
		return
	}
	if digest != name.Digest {
		d.state.latchError(pullerr.New(pullerr.KindIntegrityMismatch, "corrupted metadata object: expected %s, got %s", name.Digest, digest))
		return
	}
	d.scan(name, 0, nil)
}

// contentOnComplete implements spec.md §4.4's content_on_complete.
func (d *Driver) contentOnComplete(digest object.Digest, result transport.Result) {
	d.state.counters.incOutstandingContentFetches(-1)

	if result.NotFound {
		d.state.latchError(pullerr.New(pullerr.KindNotFound, "content object %s not found on remote", digest))
		return
	}
	if result.Err != nil {
		d.state.latchError(result.Err)
		return
	}

	name := object.NewName(digest, object.KindFile)
	if d.archiveCompressed && d.state.opts.Mirror {
		stored, err := d.state.store.Has(d.ctx, name)
		if err != nil {
			d.state.latchError(err)
			return
		}
		if !stored {
			if err := d.state.store.FinalizeLooseContent(d.ctx, digest, result.TempPath); err != nil {
				d.state.latchError(err)
				return
			}
			d.state.counters.incFetchedContent()
			return
		}
	}

	raw, err := os.ReadFile(result.TempPath)
	os.Remove(result.TempPath)
	if err != nil {
		d.state.latchError(pullerr.Wrap(pullerr.KindStorageError, err, "could not read temp file for %s", digest))
		return
	}
	file, err := d.objCodec.Unarchive(raw)
	if err != nil {
		d.state.latchError(pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not parse content archive for %s", digest))
		return
	}

	d.state.counters.incOutstandingContentWrites(1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		written, err := d.state.store.WriteContent(d.ctx, digest, file)
		d.contentOnWriteComplete(digest, written, err)
	}()
}

// contentOnWriteComplete implements spec.md §4.4's content_on_write_complete.
func (d *Driver) contentOnWriteComplete(expected, got object.Digest, err error) {
	d.state.counters.incOutstandingContentWrites(-1)
	if err != nil {
		d.state.latchError(err)
		return
	}
	if got != expected {
		d.state.latchError(pullerr.New(pullerr.KindIntegrityMismatch, "Corrupted content object: expected %s, got %s", expected, got))
		return
	}
	d.state.counters.incFetchedContent()
}
