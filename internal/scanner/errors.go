package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/cvalentine99/binscore/internal/metrics"
	"github.com/cvalentine99/binscore/internal/ml"
)

var (
	// ErrNotRegular is returned for directories, devices, pipes and sockets.
	ErrNotRegular = errors.New("not a regular file")
	// ErrTooLarge is returned when a file exceeds Config.MaxFileSize.
	ErrTooLarge = errors.New("file exceeds maximum scan size")
	// ErrInternal wraps a panic recovered during a scan.
	ErrInternal = errors.New("internal scanner error")
)

// IOError reports a failure to open, stat or read the input file.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError checks if an error is an IOError
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// ErrorKind classifies err for metrics labels.
func ErrorKind(err error) string {
	var (
		ioErr  *IOError
		dimErr *ml.DimensionMismatchError
		infErr *ml.InferenceError
	)
	switch {
	case errors.As(err, &ioErr):
		return metrics.KindIO
	case errors.As(err, &dimErr):
		return metrics.KindDimension
	case errors.As(err, &infErr):
		return metrics.KindInference
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.KindCanceled
	default:
		return metrics.KindOther
	}
}
