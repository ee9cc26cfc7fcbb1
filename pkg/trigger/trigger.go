package trigger

import (
	"fmt"

	glob "github.com/ryanuber/go-glob"

	"github.com/shipd-io/shipd/pkg/image"
)

// Kind is the sort of VCS event that can start a run.
type Kind string

const (
	KindPush        Kind = "push"
	KindPullRequest Kind = "pull_request"
)

// Event is a VCS notification as delivered to the orchestrator: what
// happened, on which branch, at which revision, touching which paths.
type Event struct {
	Kind     Kind           `json:"kind"`
	Branch   string         `json:"branch"`
	Revision image.Revision `json:"revision"`
	// Paths changed by the commit(s); only consulted for pushes.
	ChangedPaths []string `json:"changedPaths,omitempty"`
}

// Policy is the activation rule: which events get a run. It is a pure
// predicate over the event, deliberately stateless, so that the
// descriptor updater's own commits are filtered the same way whether
// they arrive seconds or days later.
type Policy struct {
	// MainBranch is the branch whose pushes (and targeting PRs) run
	// the pipeline.
	MainBranch string
	// DescriptorPaths are globs for the deployment descriptor's
	// storage location. A push whose every changed path matches one of
	// these is the updater talking to itself, and must not trigger.
	DescriptorPaths []string
}

// Allows decides whether ev should create a run. The reason string is
// for logs; it is not part of the contract.
func (p Policy) Allows(ev Event) (bool, string) {
	switch ev.Kind {
	case KindPullRequest:
		if ev.Branch != p.MainBranch {
			return false, fmt.Sprintf("pull request targets %q, not %q", ev.Branch, p.MainBranch)
		}
		return true, "pull request targeting main branch"
	case KindPush:
		if ev.Branch != p.MainBranch {
			return false, fmt.Sprintf("push to %q, not %q", ev.Branch, p.MainBranch)
		}
		if len(ev.ChangedPaths) > 0 && p.onlyDescriptorChanges(ev.ChangedPaths) {
			return false, "push only touches the deployment descriptor (self-trigger suppressed)"
		}
		return true, "push to main branch"
	default:
		return false, fmt.Sprintf("unknown event kind %q", ev.Kind)
	}
}

func (p Policy) onlyDescriptorChanges(paths []string) bool {
	for _, path := range paths {
		if !p.isDescriptorPath(path) {
			return false
		}
	}
	return true
}

func (p Policy) isDescriptorPath(path string) bool {
	for _, pattern := range p.DescriptorPaths {
		if glob.Glob(pattern, path) {
			return true
		}
	}
	return false
}
