package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	shiperr "github.com/shipd-io/shipd/pkg/errors"
	"github.com/shipd-io/shipd/pkg/image"
	shipmetrics "github.com/shipd-io/shipd/pkg/metrics"
)

// Registry accepts pushes of tagged images. Implementations talk to a
// real registry (or a fake, in tests); retry policy lives above them.
type Registry interface {
	Push(ctx context.Context, img image.Image) error
}

// RetryingPusher wraps a Registry with a bounded number of automatic
// retries for transient push failures. Context cancellation is never
// retried: once a push has started, it runs to completion or to a
// documented failure, and the caller decides what happens next.
type RetryingPusher struct {
	Registry Registry
	Retries  int
	Backoff  time.Duration
	Logger   log.Logger
}

func (p *RetryingPusher) Push(ctx context.Context, img image.Image) error {
	attempts := p.Retries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			p.Logger.Log("push", img.Ref.String(), "attempt", attempt+1, "err", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff):
			}
		}
		start := time.Now()
		lastErr = p.Registry.Push(ctx, img)
		pushDuration.With(
			shipmetrics.LabelSuccess, fmt.Sprint(lastErr == nil),
		).Observe(time.Since(start).Seconds())
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return shiperr.NewPipelineError(shiperr.KindRegistryPushFailure,
		errors.Wrapf(lastErr, "pushing %s after %d attempts", img.Ref.String(), attempts))
}
