package deploy

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store with the same optimistic-concurrency
// contract as the git-backed one. Used in tests, and handy for
// simulating commit races without a git server.
type MemStore struct {
	mu      sync.Mutex
	content []byte
	rev     int
	history []string // commit messages, oldest first
}

func NewMemStore(content []byte) *MemStore {
	return &MemStore{content: append([]byte(nil), content...)}
}

func (s *MemStore) Read(ctx context.Context) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.content...), fmt.Sprintf("rev-%d", s.rev), nil
}

func (s *MemStore) Write(ctx context.Context, content []byte, baseRev string, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if baseRev != fmt.Sprintf("rev-%d", s.rev) {
		return "", ErrConflict
	}
	s.content = append([]byte(nil), content...)
	s.rev++
	s.history = append(s.history, message)
	return fmt.Sprintf("rev-%d", s.rev), nil
}

// Messages returns the commit messages written so far.
func (s *MemStore) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}
