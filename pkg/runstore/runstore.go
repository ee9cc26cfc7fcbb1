package runstore

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/shipd-io/shipd/pkg/run"
)

var ErrNotFound = errors.New("run not found")

// Store persists run state. The orchestrator saves after every state
// change so that a suspended run (awaiting approval) is a record, not
// a parked goroutine, and survives a daemon restart.
type Store interface {
	Save(r *run.Run) error
	Get(id run.ID) (*run.Run, error)
	List() ([]*run.Run, error)
	// PendingApproval lists runs suspended on the manual gate.
	PendingApproval() ([]*run.Run, error)
}

// MemStore is the in-memory Store, also embedded by FileStore.
type MemStore struct {
	mu   sync.Mutex
	runs map[run.ID]*run.Run
}

func NewMemStore() *MemStore {
	return &MemStore{runs: make(map[run.ID]*run.Run)}
}

func (s *MemStore) Save(r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r.Copy()
	return nil
}

func (s *MemStore) Get(id run.ID) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	return r.Copy(), nil
}

func (s *MemStore) List() ([]*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*run.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) PendingApproval() ([]*run.Run, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []*run.Run
	for _, r := range all {
		if r.Status == run.StatusAwaitingApproval {
			out = append(out, r)
		}
	}
	return out, nil
}
