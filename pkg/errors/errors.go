package errors

import (
	"encoding/json"
	"errors"
)

// Representation of errors crossing the API boundary. These are
// divided into a small number of categories, essentially distinguished
// by whose fault the error is; i.e., is this error:
//  - a transient problem with a collaborator, so worth trying again?
//  - not going to work until the operator takes some other action, e.g., fixing config?

type HelpfulError interface {
	Base() *BaseError
}

type BaseError struct {
	// a message that can be printed out for the user
	Help string `json:"help"`
	// the underlying error that can be e.g., logged for developers to look at
	Err error
}

func (e *BaseError) Base() *BaseError {
	return e
}

func (e *BaseError) Error() string {
	if e.Err == nil {
		return e.Help
	}
	return e.Err.Error()
}

func (e *BaseError) Unwrap() error {
	return e.Err
}

func (e *BaseError) MarshalJSON() ([]byte, error) {
	var errMsg string
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	jsonable := &struct {
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{
		Help: e.Help,
		Err:  errMsg,
	}
	return json.Marshal(jsonable)
}

func (e *BaseError) UnmarshalJSON(data []byte) error {
	jsonable := &struct {
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{}
	if err := json.Unmarshal(data, &jsonable); err != nil {
		return err
	}
	e.Help = jsonable.Help
	if jsonable.Err != "" {
		e.Err = errors.New(jsonable.Err)
	}
	return nil
}

func CoverAllError(err error) *BaseError {
	return &BaseError{
		Err: err,
		Help: `Internal error: ` + err.Error() + `

We don't have a specific help message for the error above; the stage
log for the failing run will have more detail.
`,
	}
}

// A problem that is most likely caused by the operator's configuration
// being incomplete or incorrect. For example, a descriptor path that
// matches nothing in the deploy repo.
type UserConfigProblem struct {
	*BaseError
}

// Something unexpected and bad happened in a collaborator and we're
// not sure why, but if the pipeline is re-run it may come right again.
type ServerException struct {
	*BaseError
}

// The thing you asked for just doesn't exist. Sorry!
type Missing struct {
	*BaseError
}
