package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"wallet_aggregator/internal/domain/entity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore persists detection checkpoints as a JSON map keyed by
// chain_wallet_class. Advancement is monotonic: a block below the stored value
// is ignored.
type FileStore struct {
	mu     sync.Mutex
	path   string
	blocks map[string]uint64
}

// NewFileStore opens (or creates) the checkpoint file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, blocks: make(map[string]uint64)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.blocks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint data from %s: %w", path, err)
	}
	return s, nil
}

// LastScannedBlock implements port.CheckpointStore.
func (s *FileStore) LastScannedBlock(key entity.CheckpointKey) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.blocks[key.String()]
	return block, ok
}

// Advance implements port.CheckpointStore.
func (s *FileStore) Advance(key entity.CheckpointKey, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.blocks[key.String()]; ok && block <= current {
		return nil
	}
	s.blocks[key.String()] = block
	return s.flushLocked()
}

// flushLocked writes the map through a temp file and rename so a crash mid-write
// cannot truncate the previous state.
func (s *FileStore) flushLocked() error {
	data, err := json.Marshal(s.blocks)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoints: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}
