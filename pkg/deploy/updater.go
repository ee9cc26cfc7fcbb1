package deploy

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	shiperr "github.com/shipd-io/shipd/pkg/errors"
	"github.com/shipd-io/shipd/pkg/image"
)

// Updater rewrites the deployment descriptor's image reference and
// commits the result. The whole read-modify-write cycle is retried
// with a fresh read on conflict, so a concurrent run's commit is
// observed rather than clobbered.
type Updater struct {
	Store        Store
	RegistryHost string // entries are matched by this prefix, not by prior value
	Retries      int
	Logger       log.Logger
}

func (u *Updater) Update(ctx context.Context, deploymentName string, newRef image.Ref) (CommitResult, error) {
	attempts := u.Retries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		content, rev, err := u.Store.Read(ctx)
		if err != nil {
			return CommitResult{}, errors.Wrap(err, "reading descriptor")
		}

		updated, replaced, err := ReplaceImageRefs(content, deploymentName, u.RegistryHost, newRef)
		if err != nil {
			return CommitResult{}, err
		}
		if replaced == 0 {
			return CommitResult{}, &shiperr.UserConfigProblem{
				BaseError: &shiperr.BaseError{
					Err:  errors.Errorf("no image entry with registry host %q in descriptor", u.RegistryHost),
					Help: "The descriptor has no image reference for the configured registry host; check --registry-host and the descriptor path.",
				},
			}
		}
		if bytes.Equal(updated, content) {
			u.Logger.Log("deployment", deploymentName, "image", newRef.String(), "outcome", NoChange)
			return CommitResult{Outcome: NoChange, Revision: rev}, nil
		}

		message := commitMessage(deploymentName, newRef)
		newRev, err := u.Store.Write(ctx, updated, rev, message)
		if err == nil {
			u.Logger.Log("deployment", deploymentName, "image", newRef.String(), "outcome", Committed, "revision", newRev)
			return CommitResult{Outcome: Committed, Revision: newRev, Message: message}, nil
		}
		if errors.Cause(err) != ErrConflict {
			return CommitResult{}, errors.Wrap(err, "writing descriptor")
		}
		lastErr = err
		u.Logger.Log("deployment", deploymentName, "conflict", "true", "attempt", attempt+1)
	}
	return CommitResult{}, shiperr.NewPipelineError(shiperr.KindUpdateConflict,
		errors.Wrapf(lastErr, "updating descriptor for %s after %d attempts", deploymentName, attempts))
}

// commitMessage embeds the short tag only; the full tag is what lands
// in the descriptor.
func commitMessage(deploymentName string, newRef image.Ref) string {
	short := strings.TrimPrefix(newRef.Tag, image.TagPrefix)
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("Release %s to %s", short, deploymentName)
}

var imageLineRegexp = regexp.MustCompile(`^(\s*(?:-\s+)?image:\s*["']?)([^\s"'#]+)(["']?\s*(?:#.*)?)$`)

// ReplaceImageRefs rewrites, line by line, every image reference in
// the descriptor whose registry host matches. Everything else in the
// document, including comments, quoting and indentation, passes
// through byte for byte; this is an edit, not a regeneration. It
// returns the new content and how many references matched (which may
// include references already at the target value).
func ReplaceImageRefs(content []byte, deploymentName, registryHost string, newRef image.Ref) ([]byte, int, error) {
	if err := validateYAML(content); err != nil {
		return nil, 0, errors.Wrap(err, "descriptor is not valid YAML")
	}
	if deploymentName != "" && !containsName(content, deploymentName) {
		return nil, 0, &shiperr.Missing{
			BaseError: &shiperr.BaseError{
				Err:  errors.Errorf("deployment %q not found in descriptor", deploymentName),
				Help: fmt.Sprintf("The descriptor has no entry named %q; check --deployment.", deploymentName),
			},
		}
	}

	var replaced int
	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		m := imageLineRegexp.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ref, err := image.ParseRef(m[2])
		if err != nil {
			continue // not an image reference we understand; leave it be
		}
		if ref.Domain != registryHost {
			continue
		}
		replaced++
		lines[i] = m[1] + newRef.String() + m[3]
	}
	updated := []byte(strings.Join(lines, "\n"))
	if replaced > 0 {
		if err := validateYAML(updated); err != nil {
			return nil, 0, errors.Wrap(err, "edited descriptor is not valid YAML")
		}
	}
	return updated, replaced, nil
}

var nameLineRegexp = regexp.MustCompile(`^\s*name:\s*["']?([^\s"'#]+)`)

func containsName(content []byte, name string) bool {
	for _, line := range strings.Split(string(content), "\n") {
		if m := nameLineRegexp.FindStringSubmatch(line); m != nil && m[1] == name {
			return true
		}
	}
	return false
}
