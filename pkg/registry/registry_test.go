package registry

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	shiperr "github.com/shipd-io/shipd/pkg/errors"
	"github.com/shipd-io/shipd/pkg/image"
)

type flakyRegistry struct {
	failures int
	pushes   int
}

func (r *flakyRegistry) Push(ctx context.Context, img image.Image) error {
	r.pushes++
	if r.pushes <= r.failures {
		return errors.New("connection reset by peer")
	}
	return nil
}

func testImage() image.Image {
	ref, _ := image.ParseRef("ghcr.io/org/repo:sha-abc1234")
	return image.Image{Ref: ref, Outcome: image.ScanClean}
}

func TestPushRecoversFromTransientFailure(t *testing.T) {
	reg := &flakyRegistry{failures: 2}
	p := &RetryingPusher{Registry: reg, Retries: 3, Backoff: time.Millisecond, Logger: log.NewNopLogger()}

	err := p.Push(context.Background(), testImage())
	assert.NoError(t, err)
	assert.Equal(t, 3, reg.pushes)
}

func TestPushSurfacesAfterRetryExhaustion(t *testing.T) {
	reg := &flakyRegistry{failures: 10}
	p := &RetryingPusher{Registry: reg, Retries: 2, Backoff: time.Millisecond, Logger: log.NewNopLogger()}

	err := p.Push(context.Background(), testImage())
	assert.True(t, shiperr.IsKind(err, shiperr.KindRegistryPushFailure))
	assert.Equal(t, 3, reg.pushes)
}

func TestPushDoesNotRetryAfterCancellation(t *testing.T) {
	reg := &flakyRegistry{failures: 10}
	p := &RetryingPusher{Registry: reg, Retries: 5, Backoff: time.Millisecond, Logger: log.NewNopLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Push(ctx, testImage())
	assert.Error(t, err)
	assert.Equal(t, 1, reg.pushes)
}
