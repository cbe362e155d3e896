package store

import (
	"context"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"

	"github.com/arborfs/pull/object"
	"github.com/arborfs/pull/pullerr"
)

// Badger is a Store backed by a single badger key-value database, the
// teacher's storage engine (service/storage, ledger/store). A ristretto
// cache fronts repeated Has lookups: the scanner re-asks the store
// whether an object is stored every time it walks a shared subtree, and
// the cache keeps that from becoming a badger read on every call.
type Badger struct {
	log   zerolog.Logger
	db    *badger.DB
	codec *object.Codec
	cache *ristretto.Cache
}

// Open wraps an already-open badger database as a Store.
func Open(log zerolog.Logger, db *badger.DB) (*Badger, error) {
	codec, err := object.NewCodec()
	if err != nil {
		return nil, fmt.Errorf("could not build object codec: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("could not build existence cache: %w", err)
	}

	b := Badger{
		log:   log.With().Str("component", "store").Logger(),
		db:    db,
		codec: codec,
		cache: cache,
	}
	return &b, nil
}

// Has implements Store.
func (b *Badger) Has(_ context.Context, name object.Name) (bool, error) {
	key := objectKey(name)
	if _, ok := b.cache.Get(name.Key()); ok {
		return true, nil
	}

	found := false
	err := b.db.View(func(tx *badger.Txn) error {
		_, err := tx.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, pullerr.Wrap(pullerr.KindStorageError, err, "could not check object existence")
	}
	if found {
		b.cache.Set(name.Key(), struct{}{}, 1)
	}
	return found, nil
}

func (b *Badger) loadRaw(name object.Name) ([]byte, error) {
	var raw []byte
	err := b.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(objectKey(name))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return pullerr.New(pullerr.KindNotFound, "object %s not stored", name)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		if pe, ok := err.(*pullerr.Error); ok {
			return nil, pe
		}
		return nil, pullerr.Wrap(pullerr.KindStorageError, err, "could not load object %s", name)
	}
	return raw, nil
}

// LoadCommit implements Store.
func (b *Badger) LoadCommit(_ context.Context, digest object.Digest) (object.Commit, error) {
	var commit object.Commit
	raw, err := b.loadRaw(object.NewName(digest, object.KindCommit))
	if err != nil {
		return commit, err
	}
	if err := b.codec.Decode(raw, &commit); err != nil {
		return commit, pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not decode commit %s", digest)
	}
	return commit, nil
}

// LoadDirTree implements Store.
func (b *Badger) LoadDirTree(_ context.Context, digest object.Digest) (object.DirTree, error) {
	var tree object.DirTree
	raw, err := b.loadRaw(object.NewName(digest, object.KindDirTree))
	if err != nil {
		return tree, err
	}
	if err := b.codec.Decode(raw, &tree); err != nil {
		return tree, pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not decode dirtree %s", digest)
	}
	return tree, nil
}

// LoadDirMeta implements Store.
func (b *Badger) LoadDirMeta(_ context.Context, digest object.Digest) (object.DirMeta, error) {
	var meta object.DirMeta
	raw, err := b.loadRaw(object.NewName(digest, object.KindDirMeta))
	if err != nil {
		return meta, err
	}
	if err := b.codec.Decode(raw, &meta); err != nil {
		return meta, pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not decode dirmeta %s", digest)
	}
	return meta, nil
}

// LoadFile implements Store.
func (b *Badger) LoadFile(_ context.Context, digest object.Digest) (object.File, error) {
	var file object.File
	raw, err := b.loadRaw(object.NewName(digest, object.KindFile))
	if err != nil {
		return file, err
	}
	if err := b.codec.Decode(raw, &file); err != nil {
		return file, pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not decode file %s", digest)
	}
	return file, nil
}

// WriteMetadata implements Store. The caller passes the canonical bytes
// it already fetched; WriteMetadata decodes them generically by kind only
// far enough to recompute the digest, enforcing spec.md invariant 1.
func (b *Badger) WriteMetadata(ctx context.Context, name object.Name, data []byte) (object.Digest, error) {
	digest, err := b.digestFor(name.Kind, data)
	if err != nil {
		return object.Digest{}, err
	}
	if digest != name.Digest {
		return digest, pullerr.New(pullerr.KindIntegrityMismatch, "corrupted metadata object: expected %s, got %s", name.Digest, digest)
	}

	err = b.db.Update(func(tx *badger.Txn) error {
		return tx.Set(objectKey(name), data)
	})
	if err != nil {
		return digest, pullerr.Wrap(pullerr.KindStorageError, err, "could not write metadata object %s", name)
	}
	b.cache.Set(name.Key(), struct{}{}, 1)
	return digest, nil
}

func (b *Badger) digestFor(kind object.Kind, data []byte) (object.Digest, error) {
	switch kind {
	case object.KindCommit:
		var v object.Commit
		if err := b.codec.Decode(data, &v); err != nil {
			return object.Digest{}, pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not decode commit payload")
		}
		return b.codec.Digest(v)
	case object.KindDirTree:
		var v object.DirTree
		if err := b.codec.Decode(data, &v); err != nil {
			return object.Digest{}, pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not decode dirtree payload")
		}
		return b.codec.Digest(v)
	case object.KindDirMeta:
		var v object.DirMeta
		if err := b.codec.Decode(data, &v); err != nil {
			return object.Digest{}, pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not decode dirmeta payload")
		}
		return b.codec.Digest(v)
	default:
		return object.Digest{}, pullerr.New(pullerr.KindInvalidFormat, "kind %s is not a metadata kind", kind)
	}
}

// WriteContent implements Store.
func (b *Badger) WriteContent(_ context.Context, digest object.Digest, file object.File) (object.Digest, error) {
	computed, err := b.codec.Digest(file)
	if err != nil {
		return object.Digest{}, pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not digest content object")
	}
	if computed != digest {
		return computed, pullerr.New(pullerr.KindIntegrityMismatch, "corrupted content object: expected %s, got %s", digest, computed)
	}

	raw, err := b.codec.Canonical(file)
	if err != nil {
		return computed, pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not encode content object")
	}

	name := object.NewName(digest, object.KindFile)
	err = b.db.Update(func(tx *badger.Txn) error {
		return tx.Set(objectKey(name), raw)
	})
	if err != nil {
		return computed, pullerr.Wrap(pullerr.KindStorageError, err, "could not write content object %s", digest)
	}
	b.cache.Set(name.Key(), struct{}{}, 1)
	return computed, nil
}

// FinalizeLooseContent implements Store. It reads the archive bytes left
// behind by the fetcher, validates them exactly like WriteContent, and
// removes the temp file once its contents are consumed (spec.md
// invariant 6).
func (b *Badger) FinalizeLooseContent(ctx context.Context, digest object.Digest, tempPath string) error {
	defer os.Remove(tempPath)

	archived, err := os.ReadFile(tempPath)
	if err != nil {
		return pullerr.Wrap(pullerr.KindStorageError, err, "could not read temp file %s", tempPath)
	}

	file, err := b.codec.Unarchive(archived)
	if err != nil {
		return pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not parse archived content for %s", digest)
	}

	_, err = b.WriteContent(ctx, digest, file)
	return err
}

// HasDetachedMetadata implements Store.
func (b *Badger) HasDetachedMetadata(_ context.Context, commit object.Digest) (bool, error) {
	found := false
	err := b.db.View(func(tx *badger.Txn) error {
		_, err := tx.Get(detachedMetaKey(commit))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, pullerr.Wrap(pullerr.KindStorageError, err, "could not check detached metadata")
	}
	return found, nil
}

// WriteDetachedMetadata implements Store.
func (b *Badger) WriteDetachedMetadata(_ context.Context, commit object.Digest, data []byte) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		return tx.Set(detachedMetaKey(commit), data)
	})
	if err != nil {
		return pullerr.Wrap(pullerr.KindStorageError, err, "could not write detached metadata for %s", commit)
	}
	return nil
}

// LoadDetachedMetadata implements Store.
func (b *Badger) LoadDetachedMetadata(_ context.Context, commit object.Digest) ([]byte, bool, error) {
	var raw []byte
	found := false
	err := b.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(detachedMetaKey(commit))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, pullerr.Wrap(pullerr.KindStorageError, err, "could not load detached metadata for %s", commit)
	}
	return raw, found, nil
}

// CreateCommitPartial implements Store using badger's conditional set
// (SetEntry with no overwrite check is not exclusive, so we check
// presence first under the same update to emulate O_EXCL|O_CREAT,
// ignoring "already exists" exactly as spec.md §4.4 directs).
func (b *Badger) CreateCommitPartial(_ context.Context, commit object.Digest) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		_, err := tx.Get(commitPartialKey(commit))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		return tx.Set(commitPartialKey(commit), []byte{1})
	})
	if err != nil {
		return pullerr.Wrap(pullerr.KindStorageError, err, "could not create commit-partial marker for %s", commit)
	}
	return nil
}

// DeleteCommitPartial implements Store.
func (b *Badger) DeleteCommitPartial(_ context.Context, commit object.Digest) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		err := tx.Delete(commitPartialKey(commit))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return pullerr.Wrap(pullerr.KindStorageError, err, "could not delete commit-partial marker for %s", commit)
	}
	return nil
}

// HasCommitPartial implements Store.
func (b *Badger) HasCommitPartial(_ context.Context, commit object.Digest) (bool, error) {
	found := false
	err := b.db.View(func(tx *badger.Txn) error {
		_, err := tx.Get(commitPartialKey(commit))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, pullerr.Wrap(pullerr.KindStorageError, err, "could not check commit-partial marker for %s", commit)
	}
	return found, nil
}

// ListCommitPartials implements Store.
func (b *Badger) ListCommitPartials(_ context.Context) ([]object.Digest, error) {
	var digests []object.Digest
	err := b.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixCommitPartial}
		it := tx.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			var d object.Digest
			copy(d[:], key[1:])
			digests = append(digests, d)
		}
		return nil
	})
	if err != nil {
		return nil, pullerr.Wrap(pullerr.KindStorageError, err, "could not list commit-partial markers")
	}
	return digests, nil
}

// ImportLoose implements Store by reading the object from another Store
// (typically a local-path remote opened read-only) and writing it into
// this one, bypassing the network entirely.
func (b *Badger) ImportLoose(ctx context.Context, from Store, name object.Name) error {
	switch name.Kind {
	case object.KindCommit:
		commit, err := from.LoadCommit(ctx, name.Digest)
		if err != nil {
			return err
		}
		raw, err := b.codec.Canonical(commit)
		if err != nil {
			return pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not re-encode imported commit")
		}
		_, err = b.WriteMetadata(ctx, name, raw)
		return err
	case object.KindDirTree:
		tree, err := from.LoadDirTree(ctx, name.Digest)
		if err != nil {
			return err
		}
		raw, err := b.codec.Canonical(tree)
		if err != nil {
			return pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not re-encode imported dirtree")
		}
		_, err = b.WriteMetadata(ctx, name, raw)
		return err
	case object.KindDirMeta:
		meta, err := from.LoadDirMeta(ctx, name.Digest)
		if err != nil {
			return err
		}
		raw, err := b.codec.Canonical(meta)
		if err != nil {
			return pullerr.Wrap(pullerr.KindInvalidFormat, err, "could not re-encode imported dirmeta")
		}
		_, err = b.WriteMetadata(ctx, name, raw)
		return err
	case object.KindFile:
		file, err := from.LoadFile(ctx, name.Digest)
		if err != nil {
			return err
		}
		_, err = b.WriteContent(ctx, name.Digest, file)
		return err
	default:
		return pullerr.New(pullerr.KindInvalidFormat, "unknown object kind %s", name.Kind)
	}
}

// ResolveRef implements Store.
func (b *Badger) ResolveRef(_ context.Context, ref string) (object.Digest, bool, error) {
	var digest object.Digest
	found := false
	err := b.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(refKey(ref))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			copy(digest[:], val)
			return nil
		})
	})
	if err != nil {
		return digest, false, pullerr.Wrap(pullerr.KindStorageError, err, "could not resolve ref %s", ref)
	}
	return digest, found, nil
}

// SetRef implements Store.
func (b *Badger) SetRef(_ context.Context, ref string, digest object.Digest) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		return tx.Set(refKey(ref), digest[:])
	})
	if err != nil {
		return pullerr.Wrap(pullerr.KindStorageError, err, "could not set ref %s", ref)
	}
	return nil
}

// WriteSummary implements Store.
func (b *Badger) WriteSummary(_ context.Context, raw []byte) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		return tx.Set(summaryKey(), raw)
	})
	if err != nil {
		return pullerr.Wrap(pullerr.KindStorageError, err, "could not write summary")
	}
	return nil
}

// WriteSummarySig implements Store.
func (b *Badger) WriteSummarySig(_ context.Context, raw []byte) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		return tx.Set(summarySigKey(), raw)
	})
	if err != nil {
		return pullerr.Wrap(pullerr.KindStorageError, err, "could not write summary signature")
	}
	return nil
}

// Begin implements Store.
func (b *Badger) Begin(_ context.Context) (Txn, error) {
	resuming, err := b.hasPartialState()
	if err != nil {
		return nil, err
	}
	return &badgerTxn{store: b, resuming: resuming}, nil
}

func (b *Badger) hasPartialState() (bool, error) {
	found := false
	err := b.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixCommitPartial}
		opts.PrefetchValues = false
		it := tx.NewIterator(opts)
		defer it.Close()
		it.Seek(opts.Prefix)
		found = it.ValidForPrefix(opts.Prefix)
		return nil
	})
	if err != nil {
		return false, pullerr.Wrap(pullerr.KindStorageError, err, "could not inspect commit-partial markers")
	}
	return found, nil
}

// badgerTxn is a thin transaction marker: badger itself commits each
// Update call immediately, so "the transaction" here tracks only the
// resuming flag and the pull-level all-or-nothing semantics are enforced
// by the driver never calling SetRef until every write has completed
// (spec.md §5 ordering guarantee iii).
type badgerTxn struct {
	store    *Badger
	resuming bool
	done     bool
}

func (t *badgerTxn) Resuming() bool { return t.resuming }

func (t *badgerTxn) Commit(_ context.Context) error {
	t.done = true
	return nil
}

func (t *badgerTxn) Abort(_ context.Context) error {
	t.done = true
	return nil
}
