package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cvalentine99/binscore/internal/integrity"
	"github.com/cvalentine99/binscore/internal/logging"
)

// Classifier is the scoring boundary around a loaded Model. It validates inputs
// and outputs so callers only ever see probabilities in [0, 1] or a typed error.
type Classifier struct {
	model  Model
	info   ModelInfo
	logger *logging.Logger

	// Statistics
	scoreCount        atomic.Int64
	failureCount      atomic.Int64
	totalLatencyNanos atomic.Int64
}

// Load reads a model artifact and wraps it in a Classifier.
// Every failure is a *ModelLoadError.
func Load(cfg *ModelConfig) (*Classifier, error) {
	if cfg == nil {
		cfg = DefaultModelConfig()
	}
	start := time.Now()
	logger := logging.MLLogger()

	format := cfg.Format
	if format == "" {
		detected, err := DetectFormat(cfg.Path)
		if err != nil {
			return nil, &ModelLoadError{Path: cfg.Path, Err: err}
		}
		format = detected
	} else if _, err := ParseFormat(string(format)); err != nil {
		return nil, &ModelLoadError{Path: cfg.Path, Format: format, Err: err}
	}
	loadErr := func(err error) error {
		return &ModelLoadError{Path: cfg.Path, Format: format, Err: err}
	}

	fi, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, loadErr(err)
	}
	if !fi.Mode().IsRegular() {
		return nil, loadErr(fmt.Errorf("not a regular file"))
	}

	digest, err := integrity.HashFile(cfg.Path)
	if err != nil {
		return nil, loadErr(err)
	}

	info := ModelInfo{
		Path:   cfg.Path,
		Format: format,
		Digest: digest.BLAKE3,
		Size:   digest.Size,
	}

	var model Model
	switch format {
	case FormatONNX:
		m, err := loadONNX(cfg.Path, cfg.ONNX, cfg.InputDimension)
		if err != nil {
			return nil, loadErr(err)
		}
		model = m
	default:
		m, err := loadTreeModel(cfg.Path, format)
		if err != nil {
			return nil, loadErr(err)
		}
		if cfg.InputDimension > 0 && cfg.InputDimension != m.Dimension() {
			return nil, loadErr(fmt.Errorf("model declares %d input features but %d are configured", m.Dimension(), cfg.InputDimension))
		}
		info.Estimators = m.Estimators()
		model = m
	}

	info.Name = model.Name()
	if info.Name == "" {
		info.Name = filepath.Base(cfg.Path)
	}
	info.Dimension = model.Dimension()
	info.LoadedAt = time.Now()
	info.LoadDuration = time.Since(start)

	logger.Info("model loaded",
		"name", info.Name,
		"format", string(info.Format),
		"dimension", info.Dimension,
		logging.Digest(info.Digest),
		logging.Duration("load_duration", info.LoadDuration),
	)

	return NewClassifier(model, info)
}

// NewClassifier wraps an already loaded model. info.Dimension and info.Name are
// filled from the model when empty.
func NewClassifier(model Model, info ModelInfo) (*Classifier, error) {
	if model == nil {
		return nil, &ModelLoadError{Path: info.Path, Format: info.Format, Err: errors.New("nil model")}
	}
	if model.Dimension() <= 0 {
		return nil, &ModelLoadError{Path: info.Path, Format: info.Format, Err: fmt.Errorf("model declares invalid input dimension %d", model.Dimension())}
	}
	info.Dimension = model.Dimension()
	if info.Name == "" {
		info.Name = model.Name()
	}
	return &Classifier{
		model:  model,
		info:   info,
		logger: logging.MLLogger(),
	}, nil
}

// ExpectedDimension returns the input length the model requires.
func (c *Classifier) ExpectedDimension() int {
	return c.info.Dimension
}

// Info returns a copy of the model metadata.
func (c *Classifier) Info() ModelInfo {
	return c.info
}

// Score returns P(malicious) for vec. It fails with *DimensionMismatchError when
// len(vec) is wrong and with *InferenceError when the input or output is not a
// usable number. A failed score is never replaced by a default.
func (c *Classifier) Score(ctx context.Context, vec []float64) (float64, error) {
	if len(vec) != c.info.Dimension {
		c.failureCount.Add(1)
		return 0, &DimensionMismatchError{Expected: c.info.Dimension, Got: len(vec)}
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			c.failureCount.Add(1)
			return 0, newInferenceError("validate", c.info.Name, i, ErrNonFiniteInput)
		}
	}

	start := time.Now()
	p, err := c.model.Predict(ctx, vec)
	if err != nil {
		c.failureCount.Add(1)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, newInferenceError("predict", c.info.Name, -1, err)
	}

	switch {
	case math.IsNaN(p) || math.IsInf(p, 0):
		err = ErrNonFinite
	case p < 0 || p > 1:
		err = fmt.Errorf("%w: %g", ErrOutOfRange, p)
	}
	if err != nil {
		c.failureCount.Add(1)
		c.logger.Error("model produced unusable output", "model", c.info.Name, logging.Err(err))
		return 0, newInferenceError("predict", c.info.Name, -1, err)
	}

	c.scoreCount.Add(1)
	c.totalLatencyNanos.Add(int64(time.Since(start)))
	return p, nil
}

// Close releases backend resources.
func (c *Classifier) Close() error {
	return c.model.Close()
}

// Stats returns classification statistics
func (c *Classifier) Stats() ClassifierStats {
	count := c.scoreCount.Load()
	totalLatency := time.Duration(c.totalLatencyNanos.Load())

	var avgLatency time.Duration
	if count > 0 {
		avgLatency = totalLatency / time.Duration(count)
	}

	return ClassifierStats{
		ScoreCount:     count,
		FailureCount:   c.failureCount.Load(),
		TotalLatency:   totalLatency,
		AverageLatency: avgLatency,
	}
}

// ClassifierStats holds classifier statistics
type ClassifierStats struct {
	ScoreCount     int64
	FailureCount   int64
	TotalLatency   time.Duration
	AverageLatency time.Duration
}
