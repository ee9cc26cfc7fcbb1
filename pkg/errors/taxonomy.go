package errors

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so that callers can branch on the
// category without string-matching. The categories matter: a
// vulnerable image and an unreachable scanner look similar from a
// distance but route the run very differently.
type Kind string

const (
	KindBuildFailure        Kind = "build_failure"
	KindScannerUnavailable  Kind = "scanner_unavailable"
	KindPublishRejected     Kind = "publish_rejected"
	KindRegistryPushFailure Kind = "registry_push_failure"
	KindUpdateConflict      Kind = "update_conflict"
	KindNotFound            Kind = "not_found"
)

type PipelineError struct {
	Kind Kind
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func NewPipelineError(kind Kind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Err: err}
}

// KindOf reports the failure category of err, or "" if err carries
// none.
func KindOf(err error) Kind {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
