package store

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	shiperr "github.com/shipd-io/shipd/pkg/errors"
	"github.com/shipd-io/shipd/pkg/run"
)

var ErrNotFound = shiperr.NewPipelineError(shiperr.KindNotFound, errors.New("artifact not found"))

// Ref is a content-addressed handle on an artifact, scoped to the run
// that produced it. Downstream stages pass refs around; the bytes stay
// here.
type Ref struct {
	RunID  run.ID `json:"runID"`
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s@%s", r.RunID, r.Name, r.Digest)
}

// Store keeps build outputs for the duration of a run. It owns the
// bytes; when the run reaches a terminal status the orchestrator
// releases them and refs from that run stop resolving.
type Store struct {
	mu   sync.Mutex
	runs map[run.ID]map[string][]byte // digest -> bytes
}

func New() *Store {
	return &Store{runs: make(map[run.ID]map[string][]byte)}
}

func (s *Store) Put(runID run.ID, name string, data []byte) (Ref, error) {
	if name == "" {
		return Ref{}, errors.New("artifact name must not be empty")
	}
	sum := fmt.Sprintf("sha256:%x", sha256.Sum256(data))

	s.mu.Lock()
	defer s.mu.Unlock()
	artifacts, ok := s.runs[runID]
	if !ok {
		artifacts = make(map[string][]byte)
		s.runs[runID] = artifacts
	}
	artifacts[sum] = append([]byte(nil), data...)

	heldBytes.Add(float64(len(data)))
	return Ref{RunID: runID, Name: name, Digest: sum}, nil
}

// Get resolves a ref. A ref from another run, or from a run that has
// been released, fails with ErrNotFound; that is a programming or
// configuration error, and is not retried anywhere.
func (s *Store) Get(ref Ref) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	artifacts, ok := s.runs[ref.RunID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "run %s", ref.RunID)
	}
	data, ok := artifacts[ref.Digest]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "artifact %s", ref)
	}
	return append([]byte(nil), data...), nil
}

// Release discards everything a run put in the store.
func (s *Store) Release(runID run.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, data := range s.runs[runID] {
		heldBytes.Add(-float64(len(data)))
	}
	delete(s.runs, runID)
}
