package ml

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/cvalentine99/binscore/internal/config"
)

// ONNXConfig holds configuration for the ONNX Runtime backend
type ONNXConfig struct {
	// SharedLibraryPath is the path to the ONNX Runtime shared library
	SharedLibraryPath string
	// InputName selects the input tensor; empty uses the model's first input
	InputName string
	// OutputName selects the probability tensor; empty uses the first float output
	OutputName string
	// NumThreads sets the intra-op thread count per session
	NumThreads int
	// PoolSize is the number of sessions available for concurrent inference
	PoolSize int
}

// DefaultONNXConfig returns a default configuration
func DefaultONNXConfig() *ONNXConfig {
	return &ONNXConfig{
		SharedLibraryPath: config.Paths.ONNXLibraryPath,
		NumThreads:        1,
		PoolSize:          4,
	}
}

// The ONNX Runtime environment is process-global.
var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 && !ort.IsInitialized() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()

	envRefs--
	if envRefs == 0 && ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}

// onnxSession wraps an ONNX Runtime session with its tensors
type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *onnxSession) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// onnxModel serves an ONNX graph through a pool of pre-allocated sessions.
type onnxModel struct {
	config    *ONNXConfig
	path      string
	dim       int
	outLen    int
	inName    string
	outName   string
	pool      chan *onnxSession
	closeOnce sync.Once
}

// loadONNX inspects the graph, resolves its input dimension and fills the session pool.
func loadONNX(path string, cfg *ONNXConfig, configuredDim int) (*onnxModel, error) {
	if cfg == nil {
		cfg = DefaultONNXConfig()
	}
	if err := acquireEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	m, err := newONNXModel(path, cfg, configuredDim)
	if err != nil {
		releaseEnvironment()
		return nil, err
	}
	return m, nil
}

func newONNXModel(path string, cfg *ONNXConfig, configuredDim int) (*onnxModel, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model signature: %w", err)
	}

	in, err := selectTensor(inputs, cfg.InputName, "input")
	if err != nil {
		return nil, err
	}
	out, err := selectTensor(outputs, cfg.OutputName, "output")
	if err != nil {
		return nil, err
	}

	dim, err := resolveDimension(in.Dimensions, configuredDim)
	if err != nil {
		return nil, err
	}
	outLen, err := resolveOutputLength(out.Dimensions)
	if err != nil {
		return nil, err
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}

	m := &onnxModel{
		config:  cfg,
		path:    path,
		dim:     dim,
		outLen:  outLen,
		inName:  in.Name,
		outName: out.Name,
		pool:    make(chan *onnxSession, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		s, err := m.createSession()
		if err != nil {
			m.drain()
			return nil, fmt.Errorf("failed to create session %d: %w", i, err)
		}
		m.pool <- s
	}
	return m, nil
}

// selectTensor picks the named float tensor, or the first float tensor when name is empty.
func selectTensor(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	for _, info := range infos {
		if name != "" && info.Name != name {
			continue
		}
		if info.OrtValueType != ort.ONNXTypeTensor || info.DataType != ort.TensorElementDataTypeFloat {
			if name != "" {
				return ort.InputOutputInfo{}, fmt.Errorf("%s %q is not a float32 tensor", kind, name)
			}
			continue
		}
		return info, nil
	}
	if name != "" {
		return ort.InputOutputInfo{}, fmt.Errorf("model has no %s named %q", kind, name)
	}
	return ort.InputOutputInfo{}, fmt.Errorf("model has no float32 %s tensor", kind)
}

// resolveDimension reads the feature count from an input shape such as [N, D].
// A dynamic D requires configuredDim; a fixed D must agree with it when set.
func resolveDimension(shape ort.Shape, configuredDim int) (int, error) {
	if len(shape) == 0 {
		return 0, errors.New("input tensor is a scalar")
	}
	for _, d := range shape[:len(shape)-1] {
		if d > 1 {
			return 0, fmt.Errorf("input shape %v has a fixed batch dimension", shape)
		}
	}

	declared := int(shape[len(shape)-1])
	switch {
	case declared > 0 && configuredDim > 0 && declared != configuredDim:
		return 0, fmt.Errorf("model declares %d input features but %d are configured", declared, configuredDim)
	case declared > 0:
		return declared, nil
	case configuredDim > 0:
		return configuredDim, nil
	default:
		return 0, errors.New("model input dimension is dynamic; set model.input_dimension")
	}
}

// resolveOutputLength accepts [N], [N, 1] and [N, 2] probability outputs.
func resolveOutputLength(shape ort.Shape) (int, error) {
	if len(shape) == 0 {
		return 1, nil
	}
	last := shape[len(shape)-1]
	if len(shape) == 1 {
		// [N]: one probability per row
		return 1, nil
	}
	switch last {
	case 1, 2:
		return int(last), nil
	default:
		return 0, fmt.Errorf("output shape %v is not a binary probability", shape)
	}
}

// createSession creates a new ONNX session with tensors
func (m *onnxModel) createSession() (*onnxSession, error) {
	s := &onnxSession{}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.dim)))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	s.input = input

	outShape := ort.NewShape(1, int64(m.outLen))
	if m.outLen == 1 {
		outShape = ort.NewShape(1)
	}
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	s.output = output

	options, err := ort.NewSessionOptions()
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if m.config.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(m.config.NumThreads); err != nil {
			s.destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(
		m.path,
		[]string{m.inName},
		[]string{m.outName},
		[]ort.Value{s.input},
		[]ort.Value{s.output},
		options,
	)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.session = session
	return s, nil
}

// Predict performs inference on a single vector
func (m *onnxModel) Predict(ctx context.Context, vec []float64) (float64, error) {
	var s *onnxSession
	select {
	case s = <-m.pool:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() {
		m.pool <- s
	}()

	data := s.input.GetData()
	for i, v := range vec {
		data[i] = float32(v)
	}

	if err := s.session.Run(); err != nil {
		return 0, err
	}

	out := s.output.GetData()
	return float64(out[len(out)-1]), nil
}

func (m *onnxModel) Dimension() int {
	return m.dim
}

func (m *onnxModel) Name() string {
	return m.outName + "@" + m.path
}

// Close releases all sessions. Predict must not be called afterwards.
func (m *onnxModel) Close() error {
	m.closeOnce.Do(func() {
		m.drain()
		releaseEnvironment()
	})
	return nil
}

func (m *onnxModel) drain() {
	for {
		select {
		case s := <-m.pool:
			s.destroy()
		default:
			return
		}
	}
}
