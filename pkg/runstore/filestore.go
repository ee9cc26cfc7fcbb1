package runstore

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/shipd-io/shipd/pkg/run"
)

// FileStore writes each run to its own JSON file under Dir, with a
// write-to-temp-then-rename so readers never see a half-written run.
// It keeps a MemStore in front; Load primes it from disk at startup.
type FileStore struct {
	Dir string
	mem *MemStore
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating state dir %s", dir)
	}
	s := &FileStore{Dir: dir, mem: NewMemStore()}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	entries, err := ioutil.ReadDir(s.Dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := ioutil.ReadFile(filepath.Join(s.Dir, entry.Name()))
		if err != nil {
			return err
		}
		var r run.Run
		if err := json.Unmarshal(data, &r); err != nil {
			return errors.Wrapf(err, "decoding %s", entry.Name())
		}
		if err := s.mem.Save(&r); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Save(r *run.Run) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.Dir, string(r.ID)+".json")
	tmp := path + ".tmp"
	if err := ioutil.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return s.mem.Save(r)
}

func (s *FileStore) Get(id run.ID) (*run.Run, error) {
	return s.mem.Get(id)
}

func (s *FileStore) List() ([]*run.Run, error) {
	return s.mem.List()
}

func (s *FileStore) PendingApproval() ([]*run.Run, error) {
	return s.mem.PendingApproval()
}
