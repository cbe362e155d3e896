package pull

import (
	"context"
	"net/url"
	"strings"

	"github.com/arborfs/pull/object"
	"github.com/arborfs/pull/pullerr"
	"github.com/arborfs/pull/summary"
	"github.com/arborfs/pull/transport"
	"github.com/arborfs/pull/trust"
)

// refTarget is a named ref resolved to the commit it currently points at
// on the remote, carrying the size the summary advertised for it, if any
// (spec.md §4.6 phase 1 step 5).
type refTarget struct {
	ref    string
	digest object.Digest
	size   int64
}

// phaseRefs implements spec.md §4.6 phase 1. It returns the sync fetcher
// used during this phase (the caller closes it once phase 2 builds its
// own async-bound fetcher), the named refs to resolve, and the bare
// commit digests requested explicitly.
func (d *Driver) phaseRefs(opts Options) (transport.Fetcher, []refTarget, []object.Digest, error) {
	base, err := d.resolveBaseURL(opts)
	if err != nil {
		return nil, nil, nil, err
	}
	d.baseURL = base

	isLocal := base.Scheme == "file"
	if isLocal && d.localRemote == nil {
		return nil, nil, nil, pullerr.New(pullerr.KindConfigurationError, "file:// base URL requires a local remote store")
	}

	fetcher := d.newFetcher(base)

	if !isLocal {
		if err := d.checkRemoteMode(fetcher, base); err != nil {
			fetcher.Close()
			return nil, nil, nil, err
		}
	}

	verifySummary := opts.VerifySummary && !isLocal
	var sum *summary.Summary
	var sumRaw, sumSigRaw []byte
	if !isLocal {
		sum, sumRaw, sumSigRaw, err = d.fetchSummary(fetcher, base, verifySummary)
		if err != nil {
			fetcher.Close()
			return nil, nil, nil, err
		}
	}
	d.state.summary = sum
	d.state.summaryRaw = sumRaw
	d.state.summarySigRaw = sumSigRaw

	refNames, commitDigests, err := partitionRefs(opts, sum)
	if err != nil {
		fetcher.Close()
		return nil, nil, nil, err
	}

	var targets []refTarget
	for _, ref := range refNames {
		target, err := d.resolveRef(fetcher, base, ref, sum, isLocal)
		if err != nil {
			fetcher.Close()
			return nil, nil, nil, err
		}
		targets = append(targets, target)
		if target.size > 0 {
			d.state.expectedCommitSize[target.digest] = target.size
		}
	}

	return fetcher, targets, commitDigests, nil
}

func (d *Driver) resolveBaseURL(opts Options) (*url.URL, error) {
	raw := opts.BaseURL
	if opts.Metalink != "" {
		if d.resolver == nil {
			return nil, pullerr.New(pullerr.KindConfigurationError, "metalink option set but no resolver configured")
		}
		resolved, err := d.resolver.Resolve(d.ctx, opts.Metalink)
		if err != nil {
			return nil, err
		}
		raw = resolved
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, pullerr.Wrap(pullerr.KindConfigurationError, err, "invalid base URL %q", raw)
	}
	return base, nil
}

// checkRemoteMode implements spec.md §4.6 phase 1 step 2's non-local path:
// fetch /config as text and require core.mode=archive-z2.
func (d *Driver) checkRemoteMode(fetcher transport.Fetcher, base *url.URL) error {
	text, err := fetcher.FetchSyncString(d.ctx, transport.ConfigURL(base).String())
	if err != nil {
		return pullerr.Wrap(pullerr.KindNetwork, err, "could not fetch remote config")
	}
	mode, ok := parseConfigValue(text, "core.mode")
	if !ok || mode != "archive-z2" {
		return pullerr.New(pullerr.KindProtocolError, "unsupported remote mode %q, only archive-z2 is supported", mode)
	}
	return nil
}

func parseConfigValue(text, key string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.TrimSpace(parts[0]) == key {
			return strings.TrimSpace(parts[1]), true
		}
	}
	return "", false
}

// fetchSummary implements spec.md §4.2's fetch-summary operation. The
// returned signature bytes are the remote's `summary.sig` payload exactly
// as fetched (nil when absent), so a mirror pull can persist it alongside
// the summary itself (spec.md §4.6 phase 2 step 8).
func (d *Driver) fetchSummary(fetcher transport.Fetcher, base *url.URL, verifySummary bool) (*summary.Summary, []byte, []byte, error) {
	raw, err := fetcher.FetchSyncBytes(d.ctx, transport.SummaryURL(base).String())
	if err != nil {
		if pullerr.KindOf(err) == pullerr.KindNotFound {
			if verifySummary {
				return nil, nil, nil, pullerr.New(pullerr.KindTrustFailure, "GPG verification enabled but no summary")
			}
			return nil, nil, nil, nil
		}
		return nil, nil, nil, err
	}

	sigRaw, sigErr := fetcher.FetchSyncBytes(d.ctx, transport.SummarySigURL(base).String())
	if sigErr != nil && pullerr.KindOf(sigErr) != pullerr.KindNotFound {
		return nil, nil, nil, sigErr
	}
	if sigErr != nil {
		sigRaw = nil
	}

	if verifySummary {
		if len(sigRaw) == 0 || d.verifier == nil {
			return nil, nil, nil, pullerr.New(pullerr.KindTrustFailure, "summary signature verification failed: no signature available")
		}
		if err := trust.VerifySummary(d.verifier, d.remoteName, raw, sigRaw); err != nil {
			return nil, nil, nil, err
		}
	}

	sum, err := d.sumCodec.Decode(raw)
	if err != nil {
		return nil, nil, nil, err
	}
	return &sum, raw, sigRaw, nil
}

// partitionRefs implements spec.md §4.6 phase 1 step 4.
func partitionRefs(opts Options, sum *summary.Summary) ([]string, []object.Digest, error) {
	if len(opts.Refs) == 0 {
		if !opts.Mirror {
			return nil, nil, pullerr.New(pullerr.KindConfigurationError, "refs must be specified outside mirror mode")
		}
		if sum == nil {
			return nil, nil, pullerr.New(pullerr.KindConfigurationError, "mirror pull with no explicit refs requires a summary")
		}
		names := make([]string, len(sum.Refs))
		for i, r := range sum.Refs {
			names[i] = r.Name
		}
		return names, nil, nil
	}

	var names []string
	var commits []object.Digest
	for _, r := range opts.Refs {
		if digest, err := trimmedDigest(r); err == nil {
			commits = append(commits, digest)
			continue
		}
		names = append(names, r)
	}
	return names, commits, nil
}

// resolveRef implements spec.md §4.6 phase 1 step 5.
func (d *Driver) resolveRef(fetcher transport.Fetcher, base *url.URL, ref string, sum *summary.Summary, isLocal bool) (refTarget, error) {
	if isLocal {
		digest, ok, err := d.localRemote.ResolveRef(d.ctx, ref)
		if err != nil {
			return refTarget{}, err
		}
		if !ok {
			return refTarget{}, pullerr.New(pullerr.KindNotFound, "No such branch: %s", ref)
		}
		return refTarget{ref: ref, digest: digest}, nil
	}

	if sum != nil {
		digest, size, err := sum.LookupCommit(ref)
		if err != nil {
			return refTarget{}, err
		}
		return refTarget{ref: ref, digest: digest, size: int64(size)}, nil
	}

	text, err := fetcher.FetchSyncString(d.ctx, transport.RefURL(base, ref).String())
	if err != nil {
		return refTarget{}, err
	}
	digest, err := trimmedDigest(text)
	if err != nil {
		return refTarget{}, pullerr.Wrap(pullerr.KindInvalidFormat, err, "invalid ref digest for %s", ref)
	}
	return refTarget{ref: ref, digest: digest}, nil
}

// phaseObjects implements spec.md §4.6 phase 2.
func (d *Driver) phaseObjects(opts Options, refs []refTarget, commitsToFetch []object.Digest) error {
	d.state.fetcher = d.newFetcher(d.baseURL)
	defer d.state.fetcher.Close()

	txn, err := d.state.store.Begin(d.ctx)
	if err != nil {
		return err
	}
	d.state.txn = txn

	if d.reporter != nil {
		d.reporter.Run()
		defer d.reporter.Stop()
	}

	for _, digest := range commitsToFetch {
		d.scan(object.NewName(digest, object.KindCommit), 0, restrictComponents(opts.Subdir))
	}

	for _, target := range refs {
		d.processRefTarget(opts, target)
	}

	d.wg.Wait()

	if err := d.state.err(); err != nil {
		txn.Abort(d.ctx)
		return err
	}
	if !d.state.counters.AllOutstandingZero() {
		txn.Abort(d.ctx)
		return pullerr.New(pullerr.KindProtocolError, "pull terminated with outstanding work")
	}

	if err := d.finalizeRefs(opts, refs, commitsToFetch); err != nil {
		txn.Abort(d.ctx)
		return err
	}

	if opts.Mirror && d.state.summary != nil {
		if err := d.state.store.WriteSummary(d.ctx, d.state.summaryRaw); err != nil {
			txn.Abort(d.ctx)
			return err
		}
		if len(d.state.summarySigRaw) > 0 {
			if err := d.state.store.WriteSummarySig(d.ctx, d.state.summarySigRaw); err != nil {
				txn.Abort(d.ctx)
				return err
			}
		}
	}

	if err := txn.Commit(d.ctx); err != nil {
		return err
	}

	if opts.Subdir == "" && !opts.CommitOnly {
		d.cleanupCommitPartials()
	}
	return nil
}

func (d *Driver) processRefTarget(opts Options, target refTarget) {
	if opts.DisableStaticDeltas {
		d.scan(object.NewName(target.digest, object.KindCommit), 0, restrictComponents(opts.Subdir))
		return
	}

	from, haveFrom, err := d.state.store.ResolveRef(d.ctx, localRefKey(opts, target.ref, d.remoteName))
	if err != nil {
		d.state.latchError(err)
		return
	}
	if haveFrom && from == target.digest {
		return
	}
	if !haveFrom {
		from = object.Digest{}
	}

	d.requestDelta(from, target.digest, opts)
}

func localRefKey(opts Options, ref string, remote string) string {
	if opts.Mirror {
		return ref
	}
	return remote + "/" + ref
}

func (d *Driver) finalizeRefs(opts Options, refs []refTarget, commitsToFetch []object.Digest) error {
	for _, target := range refs {
		key := localRefKey(opts, target.ref, d.remoteName)
		current, ok, err := d.state.store.ResolveRef(d.ctx, key)
		if err != nil {
			return err
		}
		if ok && current == target.digest {
			continue
		}
		if err := d.state.store.SetRef(d.ctx, key, target.digest); err != nil {
			return err
		}
	}
	return nil
}

// cleanupCommitPartials removes only the commit-partial markers this run
// itself created, mirroring ostree-repo-pull.c's cleanup over
// requested_refs_to_fetch/commits_to_fetch rather than every marker in the
// store: a marker left by another, still in-flight pull of the same store
// must survive this run's cleanup.
func (d *Driver) cleanupCommitPartials() {
	for _, digest := range d.state.ownedCommitPartials() {
		if err := d.state.store.DeleteCommitPartial(context.Background(), digest); err != nil {
			d.log.Warn().Err(err).Str("commit", digest.String()).Msg("could not delete commit-partial marker")
		}
	}
}
