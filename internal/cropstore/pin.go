package cropstore

import (
	"fmt"
	"os"
	"sync"
)

// PinnedFile is an open crop that Sweep will not remove until Close.
type PinnedFile struct {
	*os.File
	store *Store
	name  string
	once  sync.Once
}

// Close closes the file and releases its pin.
func (p *PinnedFile) Close() error {
	err := p.File.Close()
	p.once.Do(func() { p.store.unpin(p.name) })
	return err
}

// Open opens a crop for reading and pins it. name must be a bare crop
// filename as returned by Save or List.
func (s *Store) Open(name string) (*PinnedFile, error) {
	if !isCropName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	// Pinning under the read lock orders Open against Sweep.
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.pin(name)
	f, err := os.Open(s.Path(name))
	if err != nil {
		s.unpin(name)
		return nil, err
	}
	return &PinnedFile{File: f, store: s, name: name}, nil
}

func (s *Store) pin(name string) {
	s.pinMu.Lock()
	s.pins[name]++
	s.pinMu.Unlock()
}

func (s *Store) unpin(name string) {
	s.pinMu.Lock()
	defer s.pinMu.Unlock()
	if s.pins[name] <= 1 {
		delete(s.pins, name)
		return
	}
	s.pins[name]--
}

func (s *Store) isPinned(name string) bool {
	s.pinMu.Lock()
	defer s.pinMu.Unlock()
	return s.pins[name] > 0
}
