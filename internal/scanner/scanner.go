// Package scanner is the public scoring surface: it turns a file path or a
// precomputed vector into a ScoreResult.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/cvalentine99/binscore/internal/events"
	"github.com/cvalentine99/binscore/internal/features"
	"github.com/cvalentine99/binscore/internal/logging"
	"github.com/cvalentine99/binscore/internal/metrics"
	"github.com/cvalentine99/binscore/internal/ml"
	"github.com/cvalentine99/binscore/internal/models"
	"github.com/cvalentine99/binscore/internal/policy"
)

// Scorer is the classifier the scanner drives. *ml.Classifier satisfies it.
type Scorer interface {
	Score(ctx context.Context, vec []float64) (float64, error)
	ExpectedDimension() int
}

type modelInfoer interface {
	Info() ml.ModelInfo
}

// Config holds scanner configuration.
type Config struct {
	// Workers bounds ScanPaths concurrency. 0 uses runtime.NumCPU().
	Workers int

	// MaxFileSize rejects larger files before reading them. 0 disables the check.
	MaxFileSize int64
}

// DefaultConfig returns default scanner configuration
func DefaultConfig() *Config {
	return &Config{
		Workers: runtime.NumCPU(),
	}
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPolicy replaces the default three-tier policy.
func WithPolicy(p policy.Policy) Option {
	return func(s *Scanner) { s.policy = p }
}

// WithExtractor replaces the default extractor.
func WithExtractor(e *features.Extractor) Option {
	return func(s *Scanner) { s.extractor = e }
}

// WithEventBus publishes every outcome to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Scanner) { s.bus = bus }
}

// WithRecorder keeps the most recent outcomes in rec.
func WithRecorder(rec *events.Recorder) Option {
	return func(s *Scanner) { s.recorder = rec }
}

// WithMetrics records outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// WithLogger replaces the scanner logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// Scanner runs read, extract, assemble, score and classify. It is safe for
// concurrent use when its Scorer is.
type Scanner struct {
	config    *Config
	scorer    Scorer
	dim       int
	digest    string
	policy    policy.Policy
	extractor *features.Extractor
	pool      *WorkerPool

	bus      *events.EventBus
	recorder *events.Recorder
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// New creates a scanner around scorer. It fails when the scorer's expected
// dimension cannot hold the feature layout.
func New(scorer Scorer, cfg *Config, opts ...Option) (*Scanner, error) {
	if scorer == nil {
		return nil, errors.New("scanner requires a scorer")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	dim := scorer.ExpectedDimension()
	if err := features.CheckDimension(dim); err != nil {
		return nil, fmt.Errorf("model input dimension: %w", err)
	}

	s := &Scanner{
		config: cfg,
		scorer: scorer,
		dim:    dim,
		policy: policy.ThreeTier(),
		logger: logging.ScannerLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if s.extractor == nil {
		s.extractor = features.NewExtractor(nil)
	}
	if s.bus == nil && s.recorder != nil {
		s.bus = events.NewEventBus()
	}
	if s.recorder != nil {
		s.bus.Subscribe(events.EventScanCompleted, s.recorder.Handler())
		s.bus.Subscribe(events.EventScanFailed, s.recorder.Handler())
	}
	if mi, ok := scorer.(modelInfoer); ok {
		info := mi.Info()
		s.digest = info.Digest
		s.metrics.SetModel(string(info.Format), info.Digest, info.Dimension)
	}
	s.pool = NewWorkerPool(cfg.Workers, s.ScoreFile)

	return s, nil
}

// Policy returns the active policy.
func (s *Scanner) Policy() policy.Policy {
	return s.policy
}

// Dimension returns the vector length fed to the scorer.
func (s *Scanner) Dimension() int {
	return s.dim
}

// ScoreFile scores the file at path. Unparseable files are still scored with
// zero-filled structural features and come back with Partial set. Read failures
// are *IOError; classifier failures are *ml.DimensionMismatchError or
// *ml.InferenceError. No panic escapes.
func (s *Scanner) ScoreFile(ctx context.Context, path string) (res *models.ScoreResult, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", ErrInternal, r)
		}
		if err != nil {
			s.fail(path, err, time.Since(start))
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x, err := s.extract(path)
	if err != nil {
		return nil, err
	}

	vec, err := x.Vector(s.dim)
	if err != nil {
		return nil, err
	}

	res, err = s.score(ctx, vec, start)
	if err != nil {
		return nil, err
	}

	res.File = &models.FileInfo{
		Path:     path,
		Size:     x.Digest.Size,
		BLAKE3:   x.Digest.BLAKE3,
		SHA256:   x.Digest.SHA256,
		MIMEType: x.ContentType.MIME,
	}
	res.Format = x.Format()
	if x.Partial() {
		res.Partial = true
		res.ParseError = x.ParseErr.Error()
	}
	res.Duration = time.Since(start)

	s.succeed(res)
	return res, nil
}

// ScoreVector scores a precomputed vector. Its length must equal the model's
// expected dimension; no padding or truncation is applied.
func (s *Scanner) ScoreVector(ctx context.Context, vec []float64) (*models.ScoreResult, error) {
	start := time.Now()

	res, err := s.score(ctx, vec, start)
	if err != nil {
		s.fail("", err, time.Since(start))
		return nil, err
	}
	res.Duration = time.Since(start)

	s.succeed(res)
	return res, nil
}

// ScanPaths scores every path on a bounded worker pool. Results come back in
// input order, one per path.
func (s *Scanner) ScanPaths(ctx context.Context, paths []string) []PathResult {
	done := logging.Timer(s.logger, "batch scan complete", logging.Count("files", int64(len(paths))))
	defer done()
	return s.pool.Run(ctx, paths)
}

// Extract returns the raw extraction for path without scoring it.
func (s *Scanner) Extract(path string) (*features.Extraction, error) {
	return s.extract(path)
}

func (s *Scanner) extract(path string) (*features.Extraction, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, &IOError{Path: path, Op: "stat", Err: err}
	}
	if !fi.Mode().IsRegular() {
		return nil, &IOError{Path: path, Op: "stat", Err: ErrNotRegular}
	}
	if s.config.MaxFileSize > 0 && fi.Size() > s.config.MaxFileSize {
		return nil, &IOError{Path: path, Op: "stat", Err: fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, fi.Size(), s.config.MaxFileSize)}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	// Size from the open handle, in case the file changed since Stat.
	fi, err = f.Stat()
	if err != nil {
		return nil, &IOError{Path: path, Op: "stat", Err: err}
	}

	x, err := s.extractor.Extract(f, fi.Size())
	if err != nil {
		return nil, &IOError{Path: path, Op: "read", Err: err}
	}
	return x, nil
}

func (s *Scanner) score(ctx context.Context, vec []float64, start time.Time) (*models.ScoreResult, error) {
	p, err := s.scorer.Score(ctx, vec)
	if err != nil {
		return nil, err
	}
	return &models.ScoreResult{
		ID:             uuid.NewString(),
		Probability:    p,
		Verdict:        s.policy.Classify(p),
		FeatureVersion: features.LayoutVersion,
		ModelDigest:    s.digest,
		ScoredAt:       start,
	}, nil
}

func (s *Scanner) succeed(res *models.ScoreResult) {
	s.metrics.ObserveResult(res)
	if s.bus != nil {
		s.bus.PublishResult(res)
	}

	path := "<vector>"
	var size int64
	var digest string
	if res.File != nil {
		path, size, digest = res.File.Path, res.File.Size, res.File.BLAKE3
	}
	attrs := []any{
		logging.File(path, size, digest),
		logging.Score(res.Probability, string(res.Verdict)),
		logging.Duration("duration", res.Duration),
	}
	if res.Partial {
		attrs = append(attrs, "partial", true)
	}
	if res.Verdict.IsThreat() {
		s.logger.Warn("threat detected", attrs...)
	} else {
		s.logger.Info("file scored", attrs...)
	}
}

func (s *Scanner) fail(path string, err error, d time.Duration) {
	kind := ErrorKind(err)
	s.metrics.ObserveError(kind, d)
	if s.bus != nil {
		s.bus.PublishError(path, err)
	}
	s.logger.Error("scan failed", "path", path, "kind", kind, logging.Err(err))
}
