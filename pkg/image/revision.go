package image

import (
	"regexp"

	"github.com/pkg/errors"
)

// TagPrefix is prepended to the full revision hash to make the image
// tag pushed to the registry.
const TagPrefix = "sha-"

const shortLen = 7

var (
	ErrInvalidRevision = errors.New("invalid revision")

	hexRegexp = regexp.MustCompile(`^[0-9a-f]+$`)
)

// Revision identifies the source state that triggered a run: a hex
// content hash, immutable once the run starts.
type Revision string

func ParseRevision(s string) (Revision, error) {
	if len(s) < shortLen {
		return "", errors.Wrapf(ErrInvalidRevision, "parsing %q: too short", s)
	}
	if !hexRegexp.MatchString(s) {
		return "", errors.Wrapf(ErrInvalidRevision, "parsing %q: not lowercase hex", s)
	}
	return Revision(s), nil
}

func (r Revision) String() string {
	return string(r)
}

// Tag returns the authoritative image tag for this revision,
// `sha-<full hash>`. This, never the short form, is what ends up in
// the registry and the deployment descriptor.
func (r Revision) Tag() string {
	return TagPrefix + string(r)
}

// Short returns the 7-character hash prefix. Display only; commit
// messages use it, the descriptor must not.
func (r Revision) Short() string {
	return string(r)[:shortLen]
}
