// Package pull implements the coordinated scan/fetch/write state machine
// of spec.md: the object-graph scanner, the fetch/write pipeline, the
// static-delta processor, and the two-phase driver that ties them
// together against the store, transport, summary, trust and metalink
// collaborators.
package pull

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/arborfs/pull/metalink"
	"github.com/arborfs/pull/object"
	"github.com/arborfs/pull/progress"
	"github.com/arborfs/pull/store"
	"github.com/arborfs/pull/summary"
	"github.com/arborfs/pull/transport"
	"github.com/arborfs/pull/trust"
)

// FetcherFactory builds the transport.Fetcher the driver uses for a
// resolved base URL. The fetcher itself is an external collaborator
// (spec.md §1); the driver only decides when to build and discard one.
type FetcherFactory func(base *url.URL) transport.Fetcher

// Driver runs one pull (spec.md §4.6). A Driver is single-use: build one
// with New for each call to Run.
type Driver struct {
	log zerolog.Logger

	st          store.Store
	localRemote store.Store
	newFetcher  FetcherFactory
	resolver    metalink.Resolver
	verifier    trust.Verifier
	keyring     *trust.Keyring
	remoteName  string

	objCodec *object.Codec
	sumCodec *summary.Codec

	state *state

	ctx    context.Context
	cancel context.CancelFunc

	scanMu    sync.Mutex
	scanQueue *deque.Deque
	scanning  bool

	wg sync.WaitGroup

	baseURL           *url.URL
	archiveCompressed bool

	reporter *progress.Reporter

	// deltaPartSem bounds how many static-delta parts are fetched
	// concurrently, independently of the metadata/content worker pools a
	// transport.Fetcher runs internally.
	deltaPartSem *semaphore.Weighted
}

// maxConcurrentDeltaParts bounds in-flight static-delta part fetches.
const maxConcurrentDeltaParts = 8

// New builds a Driver for one pull against st, using newFetcher to build
// the transport for whatever base URL phase 1 resolves to.
func New(log zerolog.Logger, st store.Store, newFetcher FetcherFactory) (*Driver, error) {
	objCodec, err := object.NewCodec()
	if err != nil {
		return nil, err
	}
	sumCodec, err := summary.NewCodec()
	if err != nil {
		return nil, err
	}

	d := Driver{
		log:               log.With().Str("component", "pull").Logger(),
		st:                st,
		newFetcher:        newFetcher,
		objCodec:          objCodec,
		sumCodec:          sumCodec,
		scanQueue:         deque.New(64),
		archiveCompressed: true,
		deltaPartSem:      semaphore.NewWeighted(maxConcurrentDeltaParts),
	}
	return &d, nil
}

// WithMetalink sets the metalink resolver used when Options.Metalink is set.
func (d *Driver) WithMetalink(r metalink.Resolver) *Driver {
	d.resolver = r
	return d
}

// WithTrust sets the keyring and verifier used for summary/commit
// signature verification.
func (d *Driver) WithTrust(keyring *trust.Keyring, verifier trust.Verifier) *Driver {
	d.keyring = keyring
	d.verifier = verifier
	return d
}

// WithLocalRemote configures a local-path remote repository, bypassing
// the network entirely for every object import (spec.md §4.3 step 4 and
// §4.6 phase 1 step 2's `file` scheme case).
func (d *Driver) WithLocalRemote(remote store.Store) *Driver {
	d.localRemote = remote
	return d
}

// AttachProgress starts a progress.Reporter against this driver for the
// duration of Run's phase 2, per spec.md §4.6 phase 2 step 5.
func (d *Driver) AttachProgress(r *progress.Reporter) {
	d.reporter = r
}

// Snapshot implements progress.Source.
func (d *Driver) Snapshot() progress.Snapshot {
	snap := d.state.counters.snapshot()
	if d.state.fetcher != nil {
		snap.BytesTransferred = d.state.fetcher.BytesTransferred()
		if uri, active := d.state.fetcher.CurrentSyncURI(); active {
			snap.StatusURI, snap.StatusActive = uri, true
		}
	}
	return snap
}

// Run executes both phases of spec.md §4.6 against opts.
func (d *Driver) Run(ctx context.Context, opts Options, tmpDir string) (err error) {
	if err := opts.Validate(); err != nil {
		return err
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	d.remoteName = remoteNameFor(opts)
	d.state = newState(opts, d.st, nil, tmpDir)
	d.state.localRemote = d.localRemote
	d.state.remoteName = d.remoteName
	if err := d.state.ensureTmpDir(); err != nil {
		return err
	}

	syncFetcher, refsToFetch, commitsToFetch, err := d.phaseRefs(opts)
	if err != nil {
		return err
	}
	syncFetcher.Close()

	return d.phaseObjects(opts, refsToFetch, commitsToFetch)
}

func remoteNameFor(opts Options) string {
	if opts.OverrideRemoteName != "" {
		return opts.OverrideRemoteName
	}
	return "origin"
}

func trimmedDigest(raw string) (object.Digest, error) {
	return object.ParseDigest(strings.TrimSpace(raw))
}
