package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrMissingSource reports that a track's audio could not be loaded.
var ErrMissingSource = errors.New("missing source audio")

// Source resolves a track id to its decoded samples.
// Implementations report any load failure as ErrMissingSource.
type Source interface {
	Load(ctx context.Context, trackID string) (*Buffer, error)
}

// DirSource loads tracks from files under a directory. Track ids are paths relative to Dir.
type DirSource struct {
	Dir string
}

// Load decodes the file for trackID.
func (s DirSource) Load(ctx context.Context, trackID string) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Security: prevent directory traversal
	if !filepath.IsLocal(filepath.FromSlash(trackID)) {
		return nil, fmt.Errorf("%w: invalid track id %q", ErrMissingSource, trackID)
	}

	path := filepath.Join(s.Dir, filepath.FromSlash(trackID))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingSource, trackID, err)
	}

	buf, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingSource, trackID, err)
	}
	return buf, nil
}

// Tracks lists supported audio files under Dir as track ids, sorted by path.
func (s DirSource) Tracks() ([]string, error) {
	var ids []string

	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsSupported(filepath.Ext(path)) {
			return nil
		}

		rel, err := filepath.Rel(s.Dir, path)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}

	sort.Strings(ids)
	return ids, nil
}

// MemorySource serves buffers held in memory.
type MemorySource struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
}

// NewMemorySource creates a source from a map of track id to buffer.
func NewMemorySource(buffers map[string]*Buffer) *MemorySource {
	m := &MemorySource{buffers: make(map[string]*Buffer, len(buffers))}
	for id, b := range buffers {
		m.buffers[id] = b
	}
	return m
}

// Put adds or replaces a track.
func (m *MemorySource) Put(trackID string, b *Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffers[trackID] = b
}

// Delete removes a track.
func (m *MemorySource) Delete(trackID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, trackID)
}

// Load returns the buffer for trackID.
func (m *MemorySource) Load(ctx context.Context, trackID string) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.buffers[trackID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSource, trackID)
	}
	return b, nil
}
