package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cvalentine99/binscore/internal/integrity"
)

// ErrDigestMismatch is returned by ModelStore.Verify when an artifact changed
// since its manifest was recorded.
var ErrDigestMismatch = errors.New("model artifact digest does not match manifest")

// =============================================================================
// Model Store (Persistence)
// =============================================================================

// ModelStore persists ModelInfo manifests as JSON files, one per model name.
type ModelStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewModelStore creates a new model store.
func NewModelStore(basePath string) (*ModelStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return &ModelStore{basePath: basePath}, nil
}

// Save persists a manifest under name.
func (ms *ModelStore) Save(name string, info ModelInfo) error {
	if err := validName(name); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	path := filepath.Join(ms.basePath, name+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// Load reads the manifest stored under name.
func (ms *ModelStore) Load(name string) (ModelInfo, error) {
	if err := validName(name); err != nil {
		return ModelInfo{}, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(ms.basePath, name+".json"))
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	var info ModelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return ModelInfo{}, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}

	return info, nil
}

// List returns all stored manifest names, sorted.
func (ms *ModelStore) List() ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	entries, err := os.ReadDir(ms.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	sort.Strings(names)

	return names, nil
}

// Delete removes a stored manifest.
func (ms *ModelStore) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := os.Remove(filepath.Join(ms.basePath, name+".json")); err != nil {
		return fmt.Errorf("failed to delete manifest: %w", err)
	}

	return nil
}

// Verify re-hashes the artifact recorded under name and compares it with the manifest.
func (ms *ModelStore) Verify(name string) (ModelInfo, error) {
	info, err := ms.Load(name)
	if err != nil {
		return ModelInfo{}, err
	}

	digest, err := integrity.HashFile(info.Path)
	if err != nil {
		return info, fmt.Errorf("failed to hash artifact: %w", err)
	}
	if digest.BLAKE3 != info.Digest {
		return info, fmt.Errorf("%w: %s has %s, manifest records %s", ErrDigestMismatch, info.Path, digest.BLAKE3, info.Digest)
	}

	return info, nil
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid manifest name %q", name)
	}
	return nil
}
