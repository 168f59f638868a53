package ml

import "sync"

var (
	sharedMu   sync.Mutex
	sharedLoad func() (*Classifier, error)
)

// Shared returns the process-wide classifier, loading it on first use.
// Concurrent first callers share a single load; cfg is only consulted by the
// call that triggers it. A failed load is not retried.
func Shared(cfg *ModelConfig) (*Classifier, error) {
	sharedMu.Lock()
	if sharedLoad == nil {
		sharedLoad = sync.OnceValues(func() (*Classifier, error) {
			return Load(cfg)
		})
	}
	load := sharedLoad
	sharedMu.Unlock()

	return load()
}

// resetShared forgets the shared classifier. Tests only.
func resetShared() {
	sharedMu.Lock()
	sharedLoad = nil
	sharedMu.Unlock()
}
