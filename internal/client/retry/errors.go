package retry

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/dmitrijs2005/docsync/internal/common"
)

// ErrExhausted matches any *ExhaustedError.
var ErrExhausted = errors.New("retries exhausted")

// ExhaustedError reports that an operation kept failing transiently until
// the attempt budget ran out. Err is the last failure.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

type Class int

const (
	ClassTerminal Class = iota
	ClassRetryable
	ClassAuthExpired
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassAuthExpired:
		return "auth_expired"
	default:
		return "terminal"
	}
}

// Classify maps an error to its retry class.
func Classify(err error) Class {
	if err == nil {
		return ClassTerminal
	}
	if errors.Is(err, context.Canceled) {
		return ClassTerminal
	}
	if errors.Is(err, common.ErrAuthExpired) {
		return ClassAuthExpired
	}
	if errors.Is(err, common.ErrNetworkTransient) || errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassRetryable
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return ClassRetryable
	}
	return ClassTerminal
}
