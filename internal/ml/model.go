// Package ml loads pretrained malware classifiers and runs inference against them.
//
// A loaded model is read-only: it is shared by every scoring call and never
// mutated after Load returns, so Score may be called from any number of goroutines.
package ml

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cvalentine99/binscore/internal/config"
)

// Format is a model serialization format.
type Format string

const (
	FormatLightGBM     Format = "lightgbm"
	FormatLightGBMJSON Format = "lightgbm-json"
	FormatXGBoost      Format = "xgboost"
	FormatONNX         Format = "onnx"
)

var formatExtensions = map[string]Format{
	".txt":   FormatLightGBM,
	".model": FormatLightGBM,
	".json":  FormatLightGBMJSON,
	".xgb":   FormatXGBoost,
	".bin":   FormatXGBoost,
	".onnx":  FormatONNX,
}

// SupportedFormats lists the serialization formats Load accepts.
func SupportedFormats() []Format {
	return []Format{FormatLightGBM, FormatLightGBMJSON, FormatXGBoost, FormatONNX}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range SupportedFormats() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported model format %q (supported: %v)", s, SupportedFormats())
}

// DetectFormat infers the format from the artifact's file extension.
func DetectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := formatExtensions[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("cannot infer model format from extension %q (supported: %v)", ext, SupportedFormats())
}

// Model is an inference backend. Implementations must be safe for concurrent Predict calls.
type Model interface {
	// Predict returns the probability that vec describes a malicious file.
	// len(vec) equals Dimension().
	Predict(ctx context.Context, vec []float64) (float64, error)

	// Dimension is the input length the model was trained on.
	Dimension() int

	// Name identifies the model in logs and errors.
	Name() string

	Close() error
}

// ModelConfig holds configuration for loading a classifier
type ModelConfig struct {
	// Path is the model artifact
	Path string

	// Format overrides extension-based detection
	Format Format

	// InputDimension is required when the artifact does not declare a fixed
	// input length, and must agree with it when it does. 0 means "use the artifact's".
	InputDimension int

	// ONNX holds ONNX Runtime settings; nil uses DefaultONNXConfig.
	ONNX *ONNXConfig
}

// DefaultModelConfig returns a configuration pointing at the default model path
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		Path: config.Paths.ModelPath,
	}
}

// ModelInfo describes a loaded model artifact.
type ModelInfo struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Format     Format    `json:"format"`
	Digest     string    `json:"blake3"`
	Size       int64     `json:"size"`
	Dimension  int       `json:"dimension"`
	Estimators int       `json:"estimators,omitempty"`
	LoadedAt   time.Time `json:"loaded_at"`

	LoadDuration time.Duration `json:"load_duration_ns"`
}
