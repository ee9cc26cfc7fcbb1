package build

import (
	"context"

	"github.com/shipd-io/shipd/pkg/image"
)

// Artifact is a build output ready for hand-off: opaque bytes plus a
// stable name.
type Artifact struct {
	Name string
	Data []byte
}

// Toolchain runs the language-specific verification and build steps.
// The orchestrator does not care what the tools are, only whether they
// passed and what the build produced.
type Toolchain interface {
	Test(ctx context.Context) error
	Lint(ctx context.Context) error
	Build(ctx context.Context) (Artifact, error)
}

// ImageBuilder turns a build artifact into a tagged container image.
type ImageBuilder interface {
	BuildImage(ctx context.Context, artifact []byte, ref image.Ref) (image.Image, error)
}
