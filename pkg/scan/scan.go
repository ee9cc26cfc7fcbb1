package scan

import (
	"context"

	"github.com/pkg/errors"

	shiperr "github.com/shipd-io/shipd/pkg/errors"
	"github.com/shipd-io/shipd/pkg/image"
)

// ErrScannerUnavailable means the scanner could not give a verdict at
// all. This is deliberately distinct from a vulnerable verdict: no
// verdict means no publish, by either path.
var ErrScannerUnavailable = shiperr.NewPipelineError(shiperr.KindScannerUnavailable, errors.New("vulnerability scanner unavailable"))

// Params select what counts as a finding.
type Params struct {
	// SeverityThreshold is the minimum severity that makes an image
	// vulnerable, e.g. "HIGH".
	SeverityThreshold string
	// IgnoreUnfixed drops findings with no fixed version available.
	IgnoreUnfixed bool
}

type Finding struct {
	ID           string `json:"id"`
	Severity     string `json:"severity"`
	Package      string `json:"package,omitempty"`
	FixedVersion string `json:"fixedVersion,omitempty"`
	Title        string `json:"title,omitempty"`
}

type Result struct {
	Outcome  image.ScanOutcome `json:"outcome"`
	Findings []Finding         `json:"findings,omitempty"`
}

// Scanner classifies a built image against a severity threshold.
// Implementations must return ErrScannerUnavailable (possibly
// wrapped) when they cannot produce a verdict, and must never report
// such a failure as a vulnerable outcome.
type Scanner interface {
	Scan(ctx context.Context, img image.Image, params Params) (Result, error)
}
