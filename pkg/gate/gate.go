package gate

import (
	"github.com/shipd-io/shipd/pkg/image"
	"github.com/shipd-io/shipd/pkg/scan"
)

// Decision routes a scanned image to one of the publish paths, or to
// none at all.
type Decision string

const (
	// AutoPublish: the scan came back clean; push without ceremony.
	AutoPublish Decision = "auto_publish"
	// ManualApproval: findings at or above the threshold; a human has
	// to sign off before the push happens.
	ManualApproval Decision = "manual_approval"
	// Block: no verdict was produced. Publishing an unscanned image is
	// not allowed on any path.
	Block Decision = "block"
)

// Decide maps a scan result (or scan failure) to a publish decision.
// The scanErr distinction is load-bearing: an unreachable scanner is
// not a vulnerable image, and does not get the approval path.
func Decide(result scan.Result, scanErr error) Decision {
	if scanErr != nil {
		return Block
	}
	switch result.Outcome {
	case image.ScanClean:
		return AutoPublish
	case image.ScanVulnerable:
		return ManualApproval
	default:
		return Block
	}
}
