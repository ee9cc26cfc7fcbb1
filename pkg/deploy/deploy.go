package deploy

import (
	"context"

	"github.com/pkg/errors"
)

// ErrConflict means the descriptor storage moved between our read and
// our write. The updater retries on it; everything else treats it as
// any other error.
var ErrConflict = errors.New("descriptor storage has moved since read")

// Store is where the deployment descriptor lives. Read returns the
// current content and an opaque revision; Write only lands if baseRev
// still names the current revision, otherwise it returns ErrConflict.
// Concurrency is optimistic: nobody holds a lock, the final write
// detects races instead.
type Store interface {
	Read(ctx context.Context) (content []byte, rev string, err error)
	Write(ctx context.Context, content []byte, baseRev string, message string) (newRev string, err error)
}

// Outcome of an update.
type Outcome string

const (
	// Committed: the descriptor changed and the change was written.
	Committed Outcome = "committed"
	// NoChange: the descriptor already carried the target image ref;
	// nothing was written. Not an error.
	NoChange Outcome = "no-change"
)

type CommitResult struct {
	Outcome  Outcome `json:"outcome"`
	Revision string  `json:"revision,omitempty"`
	Message  string  `json:"message,omitempty"`
}
