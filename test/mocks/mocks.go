// Package mocks provides mock implementations for testing binscore components
package mocks

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
)

// =============================================================================
// Mock Model
// =============================================================================

// Byte-entropy histogram position within an assembled vector.
const (
	byteEntropyOffset = 256
	byteEntropyBins   = 16
	highEntropyBin    = 7
)

// MockModel satisfies ml.Model without any artifact on disk.
//
// By default it scores a vector by the share of byte-entropy mass that falls
// in entropy bins >= 7, so random or packed content scores near 1 and an
// all-zero vector scores 0. The result is a pure function of the input.
type MockModel struct {
	dim  int
	name string

	mu     sync.RWMutex
	output *float64
	err    error
	scoreF func(vec []float64) float64

	calls  atomic.Int64
	closed atomic.Bool
}

// NewMockModel creates a mock expecting vectors of length dim.
func NewMockModel(dim int) *MockModel {
	return &MockModel{dim: dim, name: "mock"}
}

// SetOutput makes every Predict return p.
func (m *MockModel) SetOutput(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.output = &p
}

// SetError makes every Predict fail with err.
func (m *MockModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetScoreFunc replaces the default scoring function.
func (m *MockModel) SetScoreFunc(fn func(vec []float64) float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreF = fn
}

// Predict implements ml.Model.
func (m *MockModel) Predict(ctx context.Context, vec []float64) (float64, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.err != nil:
		return 0, m.err
	case m.output != nil:
		return *m.output, nil
	case m.scoreF != nil:
		return m.scoreF(vec), nil
	}
	return HighEntropyShare(vec), nil
}

// Dimension implements ml.Model.
func (m *MockModel) Dimension() int {
	return m.dim
}

// Name implements ml.Model.
func (m *MockModel) Name() string {
	return m.name
}

// Close implements ml.Model.
func (m *MockModel) Close() error {
	m.closed.Store(true)
	return nil
}

// Calls returns how many times Predict ran.
func (m *MockModel) Calls() int64 {
	return m.calls.Load()
}

// Closed reports whether Close was called.
func (m *MockModel) Closed() bool {
	return m.closed.Load()
}

// HighEntropyShare is the default mock score.
func HighEntropyShare(vec []float64) float64 {
	end := byteEntropyOffset + byteEntropyBins*byteEntropyBins
	if len(vec) < end {
		return 0
	}
	var high float64
	for _, v := range vec[byteEntropyOffset+highEntropyBin*byteEntropyBins : end] {
		high += v
	}
	return math.Min(math.Max(high, 0), 1)
}
