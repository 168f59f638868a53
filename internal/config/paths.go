package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PathConfig holds configurable paths for binscore.
// All paths can be overridden via environment variables.
type PathConfig struct {
	// ONNXLibraryPath is the path to the ONNX Runtime shared library
	ONNXLibraryPath string

	// ModelPath is the default classifier artifact
	ModelPath string

	// ModelStoreDir holds model manifests written by "binscore model"
	ModelStoreDir string
}

// DefaultPathConfig returns the default path configuration.
// Paths are determined by:
// 1. Environment variables (highest priority)
// 2. XDG Base Directory Specification
// 3. Platform-specific defaults
func DefaultPathConfig() *PathConfig {
	dataDir := filepath.Join(getUserDataDir(), "binscore")

	return &PathConfig{
		ONNXLibraryPath: getEnvOrDefault("BINSCORE_ONNX_LIBRARY_PATH", findONNXLibrary()),
		ModelPath:       getEnvOrDefault("BINSCORE_MODEL_PATH", filepath.Join(dataDir, "models", "model.txt")),
		ModelStoreDir:   getEnvOrDefault("BINSCORE_MODEL_STORE", filepath.Join(dataDir, "manifests")),
	}
}

// getEnvOrDefault returns the environment variable value or the default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getUserDataDir returns the user data directory following the XDG base directory layout.
func getUserDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return xdgData
	}

	home := os.Getenv("HOME")
	if home == "" {
		home = os.TempDir()
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support")
	default: // linux, etc.
		return filepath.Join(home, ".local", "share")
	}
}

// findONNXLibrary searches for the ONNX Runtime library in common locations.
func findONNXLibrary() string {
	searchPaths := []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/local/lib64/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/usr/lib64/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
		filepath.Join(os.Getenv("HOME"), ".local/lib/libonnxruntime.so"),
		"/usr/local/opt/onnxruntime/lib/libonnxruntime.dylib",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Not found; ONNX models will fail to load with a clear error.
	return "/usr/lib/libonnxruntime.so"
}

// Paths is the process-wide path configuration.
var Paths = DefaultPathConfig()

// ReloadPaths re-reads the path configuration from the environment.
func ReloadPaths() {
	Paths = DefaultPathConfig()
}

// PathEnvVarsDoc documents the path environment variables.
const PathEnvVarsDoc = `
binscore Path Configuration Environment Variables:

  BINSCORE_ONNX_LIBRARY_PATH  Path to ONNX Runtime shared library
                              Default: auto-detected, else /usr/lib/libonnxruntime.so

  BINSCORE_MODEL_PATH         Classifier artifact
                              Default: ~/.local/share/binscore/models/model.txt

  BINSCORE_MODEL_STORE        Directory for model manifests
                              Default: ~/.local/share/binscore/manifests
`
