package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shipd-io/shipd/pkg/image"
	"github.com/shipd-io/shipd/pkg/scan"
)

func TestDecide(t *testing.T) {
	assert.Equal(t, AutoPublish, Decide(scan.Result{Outcome: image.ScanClean}, nil))
	assert.Equal(t, ManualApproval, Decide(scan.Result{Outcome: image.ScanVulnerable}, nil))
	// a scanner failure blocks even if the result claims clean
	assert.Equal(t, Block, Decide(scan.Result{Outcome: image.ScanClean}, scan.ErrScannerUnavailable))
	// no verdict at all blocks too
	assert.Equal(t, Block, Decide(scan.Result{Outcome: image.ScanUnknown}, nil))
	assert.Equal(t, Block, Decide(scan.Result{}, nil))
}
