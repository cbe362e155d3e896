package pull

import (
	"context"
	"strings"

	"github.com/gammazero/deque"

	"github.com/arborfs/pull/object"
	"github.com/arborfs/pull/pullerr"
	"github.com/arborfs/pull/trust"
)

// scanTask is one entry of the object-graph scan queue (spec.md §4.3),
// realized as an explicit queue rather than call-stack recursion, grounded
// on ledger/trie/queue.go's deque-backed BFS.
type scanTask struct {
	name     object.Name
	depth    int
	restrict []string
}

// scan is the entry point of spec.md §4.3. It returns immediately when
// another goroutine is already draining the queue; otherwise the calling
// goroutine becomes the drainer and processes tasks — including ones
// pushed by other goroutines while it runs — until the queue is empty.
// This gives the pull-state mutations of spec.md §5 a single effective
// mutator at a time without dedicating a goroutine to an event loop.
func (d *Driver) scan(name object.Name, depth int, restrict []string) {
	d.scanMu.Lock()
	d.scanQueue.PushBack(scanTask{name: name, depth: depth, restrict: restrict})
	if d.scanning {
		d.scanMu.Unlock()
		return
	}
	d.scanning = true
	for d.scanQueue.Len() > 0 {
		task := d.scanQueue.PopFront().(scanTask)
		d.scanMu.Unlock()
		d.processScanTask(task)
		d.scanMu.Lock()
	}
	d.scanning = false
	d.scanMu.Unlock()
}

func (d *Driver) processScanTask(task scanTask) {
	if d.state.err() != nil {
		return
	}
	if task.depth > maxRecursion {
		d.state.latchError(pullerr.New(pullerr.KindRecursionExceeded, "object graph exceeds maximum recursion depth"))
		return
	}
	if d.state.isScanned(task.name) {
		return
	}

	ctx := d.ctx
	stored, err := d.state.store.Has(ctx, task.name)
	if err != nil {
		d.state.latchError(err)
		return
	}
	requested := d.state.isRequestedMetadata(task.name)

	if d.state.localRemote != nil {
		if err := d.state.store.ImportLoose(ctx, d.state.localRemote, task.name); err != nil {
			d.state.latchError(err)
			return
		}
		stored, requested = true, true
	}

	if !stored && !requested {
		d.state.requestMetadata(task.name)
		d.enqueueMetadataFetch(task.name)
		if task.name.Kind == object.KindCommit {
			d.enqueueDetachedMetaFetch(task.name.Digest)
		}
		return
	}

	if task.name.Kind == object.KindCommit && d.state.opts.CommitOnly {
		return
	}

	if stored {
		if task.name.Kind == object.KindCommit {
			d.enqueueDetachedMetaFetch(task.name.Digest)
		}

		doScan := (d.state.txn != nil && d.state.txn.Resuming()) || requested
		if !doScan && task.name.Kind == object.KindCommit {
			has, err := d.state.store.HasCommitPartial(ctx, task.name.Digest)
			if err != nil {
				d.state.latchError(err)
				return
			}
			if has {
				doScan = true
			}
		}
		if d.state.opts.Depth != 0 {
			doScan = true
		}

		if doScan {
			switch task.name.Kind {
			case object.KindCommit:
				d.scanCommit(task.name.Digest, task.depth, task.restrict)
			case object.KindDirTree:
				d.scanDirTree(task.name.Digest, task.depth, task.restrict)
			case object.KindDirMeta:
				// leaf, nothing further.
			}
		}
	}

	if d.state.markScanned(task.name) {
		d.state.counters.incScannedMeta()
	}
}

func (d *Driver) scanCommit(digest object.Digest, recursionDepth int, restrict []string) {
	ctx := d.ctx
	d.state.mu.Lock()
	remaining, seeded := d.state.commitToDepth[digest]
	if !seeded {
		remaining = d.state.opts.Depth
		d.state.commitToDepth[digest] = remaining
	}
	d.state.mu.Unlock()

	commit, err := d.state.store.LoadCommit(ctx, digest)
	if err != nil {
		d.state.latchError(err)
		return
	}

	if d.state.verifyCommit {
		if err := d.verifyCommitSignature(ctx, digest, commit); err != nil {
			d.state.latchError(err)
			return
		}
	}

	if commit.HasParent() {
		if d.state.opts.Depth == -1 {
			d.scan(object.NewName(commit.ParentDigest, object.KindCommit), recursionDepth+1, nil)
		} else if remaining > 0 {
			parentDepth, _ := d.state.depthFor(commit.ParentDigest, remaining-1)
			if parentDepth >= 0 {
				d.scan(object.NewName(commit.ParentDigest, object.KindCommit), recursionDepth+1, nil)
			}
		}
	}

	d.scan(object.NewName(commit.RootTreeDigest, object.KindDirTree), recursionDepth+1, restrict)
	d.scan(object.NewName(commit.RootTreeMetaHash, object.KindDirMeta), recursionDepth+1, nil)
}

// verifyCommitSignature implements spec.md §4.2's verify-commit for one
// commit reached by the scanner, against whatever detached metadata has
// been written for it so far (a missing sidecar verifies as zero valid
// signatures, which is a failure).
func (d *Driver) verifyCommitSignature(ctx context.Context, digest object.Digest, commit object.Commit) error {
	if d.verifier == nil {
		return pullerr.New(pullerr.KindTrustFailure, "commit verification enabled but no verifier configured")
	}
	raw, err := d.objCodec.Canonical(commit)
	if err != nil {
		return pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not canonicalize commit %s for verification", digest)
	}
	sigRaw, _, err := d.state.store.LoadDetachedMetadata(ctx, digest)
	if err != nil {
		return err
	}
	return trust.VerifyCommit(d.verifier, d.remoteName, raw, sigRaw)
}

func (d *Driver) scanDirTree(digest object.Digest, recursionDepth int, restrict []string) {
	ctx := d.ctx
	tree, err := d.state.store.LoadDirTree(ctx, digest)
	if err != nil {
		d.state.latchError(err)
		return
	}

	if len(restrict) == 0 {
		for _, f := range tree.Files {
			if err := validateFilename(f.Name); err != nil {
				d.state.latchError(err)
				return
			}
			d.enqueueFile(f.FileDigest)
		}
	}

	queue := deque.New(len(tree.Subdirs))
	for _, sd := range tree.Subdirs {
		queue.PushBack(sd)
	}
	for queue.Len() > 0 {
		sd := queue.PopFront().(object.TreeSubdir)
		if err := validateFilename(sd.Name); err != nil {
			d.state.latchError(err)
			return
		}

		var childRestrict []string
		if len(restrict) > 0 {
			if sd.Name != restrict[0] {
				continue
			}
			childRestrict = restrict[1:]
		}

		d.scan(object.NewName(sd.TreeDigest, object.KindDirTree), recursionDepth+1, childRestrict)
		d.scan(object.NewName(sd.MetaDigest, object.KindDirMeta), recursionDepth+1, nil)
	}
}

func (d *Driver) enqueueFile(digest object.Digest) {
	ctx := d.ctx
	stored, err := d.state.store.Has(ctx, object.NewName(digest, object.KindFile))
	if err != nil {
		d.state.latchError(err)
		return
	}
	if stored {
		return
	}
	if d.state.localRemote != nil {
		if err := d.state.store.ImportLoose(ctx, d.state.localRemote, object.NewName(digest, object.KindFile)); err != nil {
			d.state.latchError(err)
		}
		return
	}
	if d.state.requestContent(digest) {
		d.enqueueContentFetch(digest)
	}
}

// restrictComponents splits an absolute subdir path into its non-empty
// path components, per spec.md §4.3's subdirectory restriction.
func restrictComponents(subdir string) []string {
	subdir = strings.Trim(subdir, "/")
	if subdir == "" {
		return nil
	}
	return strings.Split(subdir, "/")
}

func validateFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return pullerr.New(pullerr.KindInvalidFormat, "invalid filename %q", name)
	}
	if strings.ContainsAny(name, "/\x00") {
		return pullerr.New(pullerr.KindInvalidFormat, "invalid filename %q", name)
	}
	return nil
}
