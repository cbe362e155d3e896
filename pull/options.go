package pull

import (
	"github.com/go-playground/validator/v10"

	"github.com/arborfs/pull/pullerr"
)

// Options configures one pull, per spec.md §6.
type Options struct {
	// Refs are refs or commit digests to fetch. When empty in Mirror
	// mode, every ref named by the remote's summary is fetched.
	Refs []string

	// Subdir restricts file fetches to this subtree, e.g. "/usr/share".
	Subdir string `validate:"omitempty,startswith=/"`

	// Mirror writes refs under the global namespace and persists the
	// summary locally.
	Mirror bool
	// CommitOnly stops after the commit object itself.
	CommitOnly bool

	// Depth is -1 for unbounded ancestors, 0 for none, n>0 for up to n.
	Depth int `validate:"min=-1"`

	// DisableStaticDeltas skips the static-delta fast path entirely.
	DisableStaticDeltas bool

	// OverrideRemoteName names refs locally when the base URL is not a
	// configured remote.
	OverrideRemoteName string

	// VerifySummary requires a valid summary signature (spec.md §4.2).
	VerifySummary bool
	// VerifyCommit requires a valid commit signature for every commit
	// reached by the scanner.
	VerifyCommit bool

	// Metalink, when set, is resolved to the actual base URL instead of
	// treating BaseURL as final (spec.md §4.6 phase 1 step 1).
	Metalink string
	// BaseURL is the remote repository's base URI; required unless
	// Metalink is set.
	BaseURL string `validate:"required_without=Metalink"`
}

var validate = validator.New()

// Validate checks Options against its struct tags, the same validation
// surface the teacher drives with go-playground/validator.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return pullerr.Wrap(pullerr.KindConfigurationError, err, "invalid pull options")
	}
	if len(o.Refs) == 0 && !o.Mirror {
		return pullerr.New(pullerr.KindConfigurationError, "refs must be specified outside mirror mode")
	}
	return nil
}
