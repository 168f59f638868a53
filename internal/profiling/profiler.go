// Package profiling writes pprof profiles for a binscore run.
package profiling

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cvalentine99/binscore/internal/logging"
)

// Profiler captures a CPU profile for the duration of a run and a heap
// profile at its end.
type Profiler struct {
	config  *Config
	cpuFile *os.File
	running atomic.Bool
	mu      sync.Mutex
	written []string
}

// Config holds profiler configuration
type Config struct {
	// OutputDir receives the .pprof files
	OutputDir   string
	ProfileName string

	CPUProfile bool

	MemProfile     bool
	MemProfileRate int
}

// DefaultConfig returns default profiler configuration
func DefaultConfig() *Config {
	return &Config{
		OutputDir:      os.TempDir(),
		ProfileName:    "binscore",
		CPUProfile:     true,
		MemProfile:     true,
		MemProfileRate: 512 * 1024, // 512KB
	}
}

// New creates a new Profiler
func New(cfg *Config) (*Profiler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Profiler{config: cfg}, nil
}

// Start begins CPU profiling.
func (p *Profiler) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("profiler already running")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.MemProfile && p.config.MemProfileRate > 0 {
		runtime.MemProfileRate = p.config.MemProfileRate
	}

	if p.config.CPUProfile {
		path := p.path("cpu")
		f, err := os.Create(path)
		if err != nil {
			p.running.Store(false)
			return fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			p.running.Store(false)
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		p.cpuFile = f
		p.written = append(p.written, path)
	}

	return nil
}

// Stop ends CPU profiling and writes the heap profile.
func (p *Profiler) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return fmt.Errorf("profiler not running")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
	}

	if p.config.MemProfile {
		path := p.path("heap")
		if err := writeProfile("heap", path); err != nil {
			return fmt.Errorf("failed to write heap profile: %w", err)
		}
		p.written = append(p.written, path)
	}

	logging.Debug("profiles written", "files", p.written)
	return nil
}

// Files returns the profile paths written so far.
func (p *Profiler) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

func (p *Profiler) path(kind string) string {
	timestamp := time.Now().Format("20060102-150405")
	return filepath.Join(p.config.OutputDir, fmt.Sprintf("%s-%s-%s.pprof", p.config.ProfileName, kind, timestamp))
}

func writeProfile(name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if name == "heap" {
		runtime.GC()
	}
	return pprof.Lookup(name).WriteTo(f, 0)
}
