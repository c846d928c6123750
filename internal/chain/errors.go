package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum"
)

// TransportError wraps any failure of the chain transport.  Retryable means
// the caller should back off and try again; everything else propagates to the
// component's own failure handling.
type TransportError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("chain.%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// retryableMarkers are provider error substrings that indicate a transient
// condition rather than a bad request.
var retryableMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"too many requests",
	"eof",
	"websocket",
	"502",
	"503",
	"504",
}

// wrapRPC classifies an RPC failure into a TransportError.  Deadline and
// network-level failures are retryable; ethereum.NotFound and malformed
// requests are not.
func wrapRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ethereum.NotFound) {
		return &TransportError{Op: op, Retryable: false, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Op: op, Retryable: true, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransportError{Op: op, Retryable: true, Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return &TransportError{Op: op, Retryable: true, Err: err}
		}
	}
	return &TransportError{Op: op, Retryable: false, Err: err}
}
