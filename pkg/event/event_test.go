package event

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shipd-io/shipd/pkg/run"
)

func TestRingScopesByRun(t *testing.T) {
	ring := NewRing(10)
	a, b := run.ID("run-a"), run.ID("run-b")

	assert.NoError(t, ring.Record(New(a, EventRunCreated, "")))
	assert.NoError(t, ring.Record(New(b, EventRunCreated, "")))
	assert.NoError(t, ring.Record(New(a, EventRunFinished, "")))

	got := ring.For(a)
	assert.Len(t, got, 2)
	assert.Equal(t, EventRunCreated, got[0].Type)
	assert.Equal(t, EventRunFinished, got[1].Type)
	assert.Len(t, ring.For(b), 1)
}

func TestRingDropsOldestWhenFull(t *testing.T) {
	ring := NewRing(3)
	id := run.ID("run-a")
	for i := 0; i < 5; i++ {
		assert.NoError(t, ring.Record(New(id, EventStageFinished, fmt.Sprintf("stage %d", i))))
	}

	got := ring.For(id)
	assert.Len(t, got, 3)
	assert.Equal(t, "stage 2", got[0].Message)
	assert.Equal(t, "stage 4", got[2].Message)
}
