// Package store defines the object store collaborator spec.md treats as
// external (existence checks, raw writes, variant loading, transactions,
// mode-specific loose-file placement) and provides a badger-backed
// implementation of it, grounded on service/storage from the teacher.
package store

import (
	"context"

	"github.com/arborfs/pull/object"
)

// Store is the contract the pull engine needs from the local repository.
// A Store is safe for concurrent use by the pipeline's worker pools; the
// scanner and driver themselves run single-threaded per spec.md §5, but
// fetch/write completions arrive from pool goroutines.
type Store interface {
	// Has reports whether name is already stored.
	Has(ctx context.Context, name object.Name) (bool, error)

	// LoadCommit, LoadDirTree and LoadDirMeta deserialize a stored
	// metadata object for the scanner to walk. LoadFile does the same for
	// a content object, used only by ImportLoose's local-remote path.
	LoadCommit(ctx context.Context, digest object.Digest) (object.Commit, error)
	LoadDirTree(ctx context.Context, digest object.Digest) (object.DirTree, error)
	LoadDirMeta(ctx context.Context, digest object.Digest) (object.DirMeta, error)
	LoadFile(ctx context.Context, digest object.Digest) (object.File, error)

	// WriteMetadata verifies that data canonically digests to name's
	// digest and durably stores it. It returns the computed digest so
	// callers can compare it against what they expected (spec.md
	// invariant 1) even when they did not pass name.Digest themselves.
	WriteMetadata(ctx context.Context, name object.Name, data []byte) (object.Digest, error)

	// WriteContent stores a file object, taking the mode-specific loose
	// placement decision (archive-compressed vs local loose file) away
	// from callers.
	WriteContent(ctx context.Context, digest object.Digest, file object.File) (object.Digest, error)

	// FinalizeLooseContent stores the archived content object left in
	// tempPath by the fetcher and removes the temp file, used by the
	// mirror-archive-z2 path of spec.md §4.4. The Badger implementation
	// does not rename the file into place: it decompresses and decodes the
	// archive and stores it through WriteContent, digest check included.
	FinalizeLooseContent(ctx context.Context, digest object.Digest, tempPath string) error

	// HasDetachedMetadata / WriteDetachedMetadata manage the optional
	// detached commit metadata object (signatures that can change
	// without the commit digest changing).
	HasDetachedMetadata(ctx context.Context, commit object.Digest) (bool, error)
	WriteDetachedMetadata(ctx context.Context, commit object.Digest, data []byte) error
	LoadDetachedMetadata(ctx context.Context, commit object.Digest) ([]byte, bool, error)

	// Commit-partial markers (spec.md invariant 5).
	CreateCommitPartial(ctx context.Context, commit object.Digest) error
	DeleteCommitPartial(ctx context.Context, commit object.Digest) error
	HasCommitPartial(ctx context.Context, commit object.Digest) (bool, error)
	ListCommitPartials(ctx context.Context) ([]object.Digest, error)

	// ImportLoose copies an object directly from a local remote
	// repository into this store, bypassing the network entirely
	// (spec.md §4.3 step 4).
	ImportLoose(ctx context.Context, from Store, name object.Name) error

	// Refs.
	ResolveRef(ctx context.Context, ref string) (object.Digest, bool, error)
	SetRef(ctx context.Context, ref string, digest object.Digest) error

	// Summary persistence for mirror mode.
	WriteSummary(ctx context.Context, raw []byte) error
	WriteSummarySig(ctx context.Context, raw []byte) error

	// Begin starts a repository transaction. The returned Txn must be
	// committed or aborted by the caller.
	Begin(ctx context.Context) (Txn, error)
}

// Txn is a repository transaction, as referenced by spec.md §4.6 ("Begin
// a transaction", "Commit the transaction").
type Txn interface {
	// Resuming reports whether this transaction is resuming a
	// previously interrupted one (spec.md invariant 6 and property 6).
	Resuming() bool
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}
