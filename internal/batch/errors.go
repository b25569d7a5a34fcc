package batch

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors executors use to classify job failures. All three map to a
// Failed terminal state; the distinction is preserved in the job's error
// message for operators.
var (
	ErrValidation = errors.New("validation error")
	ErrProcessing = errors.New("processing error")
	ErrIO         = errors.New("io error")
)

// Wrap builds an error message that includes operation context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = ErrProcessing
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "executor failure"
	}
	return strings.Join(parts, ": ")
}

// ErrorClass names the failure classification of an executor error.
func ErrorClass(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "processing"
	}
}

// QueueError reports misuse of the queue or scheduler API. It is surfaced
// synchronously at the call site and never aborts an in-progress batch.
type QueueError struct {
	Op     string
	Reason string
}

func (e *QueueError) Error() string {
	if e.Op == "" {
		return e.Reason
	}
	return e.Op + ": " + e.Reason
}

func queueErrorf(op, format string, args ...any) *QueueError {
	return &QueueError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
