package pull

import (
	"os"
	"sync"

	"github.com/arborfs/pull/object"
	"github.com/arborfs/pull/store"
	"github.com/arborfs/pull/summary"
	"github.com/arborfs/pull/transport"
)

// phase is the pull driver's two-phase enum (spec.md §3).
type phase uint8

const (
	phaseRefs phase = iota
	phaseObjects
)

// maxRecursion is MAX_RECURSION from spec.md §4.3.
const maxRecursion = 256

// maxMetadataSize bounds a metadata fetch when the summary does not know
// a commit's exact size (spec.md §4.4's MAX_METADATA_SIZE).
const maxMetadataSize = 10 << 20

// state is the pull-state of spec.md §3. Scans and fetch/write
// completions run on many goroutines, so the requested/scanned sets, the
// depth ledger and the commit-partial set are guarded by mu, the counters
// are updated atomically, and the first error is latched through errOnce.
type state struct {
	opts Options

	store       store.Store
	localRemote store.Store // non-nil when Driver.WithLocalRemote set one; required for a "file" BaseURL
	fetcher     transport.Fetcher
	tmpDir      string

	phase phase

	verifySummary bool
	verifyCommit  bool
	remoteName    string

	summary       *summary.Summary
	summaryRaw    []byte
	summarySigRaw []byte

	// expectedCommitSize maps a commit digest to the size the summary
	// advertised for it, used to bound the metadata fetch (spec.md §4.4).
	expectedCommitSize map[object.Digest]int64

	// commitToDepth is the remaining-ancestor-depth ledger of spec.md
	// invariant 7.
	commitToDepth map[object.Digest]int

	// subdirRemaining is non-empty when a subdirectory restriction is
	// active; it is the unconsumed suffix of opts.Subdir.
	subdirRemaining string

	counters Counters

	mu                sync.Mutex
	requestedMetadata map[string]struct{}
	requestedContent  map[string]struct{}
	scannedMetadata   map[string]struct{}

	// commitPartials is the set of commit digests for which this run
	// itself created a commit-partial marker, so cleanup at the end of
	// phase 2 only ever removes markers this run owns (spec.md invariant
	// 5): it must never touch a marker left behind by some other,
	// still in-flight pull of the same store.
	commitPartials map[object.Digest]struct{}

	errOnce sync.Once
	errMu   sync.Mutex
	caught  error

	txn store.Txn
}

func newState(opts Options, st store.Store, fetcher transport.Fetcher, tmpDir string) *state {
	return &state{
		opts:               opts,
		store:              st,
		fetcher:            fetcher,
		tmpDir:             tmpDir,
		verifySummary:      opts.VerifySummary,
		verifyCommit:       opts.VerifyCommit,
		expectedCommitSize: make(map[object.Digest]int64),
		commitToDepth:      make(map[object.Digest]int),
		subdirRemaining:    opts.Subdir,
		requestedMetadata:  make(map[string]struct{}),
		requestedContent:   make(map[string]struct{}),
		scannedMetadata:    make(map[string]struct{}),
		commitPartials:     make(map[object.Digest]struct{}),
	}
}

// latchError implements the "first error wins" rule of spec.md §7 and §9:
// the first call wins, every subsequent call is dropped.
func (s *state) latchError(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.errMu.Lock()
		s.caught = err
		s.errMu.Unlock()
	})
}

func (s *state) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.caught
}

// requestMetadata marks name as network-requested if it was not already,
// returning true when this call is the one that claims it (invariant 3).
func (s *state) requestMetadata(name object.Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := name.Key()
	if _, ok := s.requestedMetadata[key]; ok {
		return false
	}
	s.requestedMetadata[key] = struct{}{}
	return true
}

func (s *state) isRequestedMetadata(name object.Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.requestedMetadata[name.Key()]
	return ok
}

func (s *state) requestContent(digest object.Digest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := digest.String()
	if _, ok := s.requestedContent[key]; ok {
		return false
	}
	s.requestedContent[key] = struct{}{}
	return true
}

func (s *state) markScanned(name object.Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := name.Key()
	if _, ok := s.scannedMetadata[key]; ok {
		return false
	}
	s.scannedMetadata[key] = struct{}{}
	return true
}

func (s *state) isScanned(name object.Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scannedMetadata[name.Key()]
	return ok
}

// depthFor implements spec.md invariant 7: the larger of the existing and
// newly-proposed remaining depth wins.
func (s *state) depthFor(commit object.Digest, proposed int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.commitToDepth[commit]
	if ok && existing >= proposed {
		return existing, false
	}
	s.commitToDepth[commit] = proposed
	return proposed, true
}

// markCommitPartialCreated records that this run created the commit-partial
// marker for digest, so end-of-run cleanup knows it owns that marker.
func (s *state) markCommitPartialCreated(digest object.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitPartials[digest] = struct{}{}
}

// ownedCommitPartials returns the commit digests this run created markers
// for.
func (s *state) ownedCommitPartials() []object.Digest {
	s.mu.Lock()
	defer s.mu.Unlock()
	digests := make([]object.Digest, 0, len(s.commitPartials))
	for digest := range s.commitPartials {
		digests = append(digests, digest)
	}
	return digests
}

func (s *state) ensureTmpDir() error {
	return os.MkdirAll(s.tmpDir, 0o700)
}
