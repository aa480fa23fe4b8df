package outpaint

import (
	"errors"
	"fmt"
)

var (
	// Dispatch errors.
	ErrPoolExhausted  = errors.New("outpaint: worker pool exhausted")
	ErrAcquireTimeout = errors.New("outpaint: worker acquisition timed out")

	// Configuration errors.
	ErrNoWorkers = errors.New("outpaint: no workers configured")

	// Not found errors.
	ErrJobNotFound     = errors.New("outpaint: job not found")
	ErrProfileNotFound = errors.New("outpaint: browser profile not found")

	// Session errors.
	ErrAgentBusy     = errors.New("outpaint: browser agent busy")
	ErrSessionClosed = errors.New("outpaint: session closed")
)

// Stable numeric codes surfaced to inbound callers. The taxonomy:
// 1003 and 1006 are transient and retried against another worker,
// 1100 and 1101 evict the reporting worker, 1102 and 1103 are
// pool-fatal, 1004 and 1005 are input/result-fatal, 1000 covers
// unexpected faults.
const (
	CodeOK                 = 0
	CodeInternal           = 1000
	CodeRateLimited        = 1003
	CodeResultRetrieval    = 1004
	CodeBadInput           = 1005
	CodeNavigationTimeout  = 1006
	CodeInsufficientCredit = 1100
	CodeAccountSuspended   = 1101
	CodePoolExhausted      = 1102
	CodeAcquireTimeout     = 1103
)

// Error is a coded error surfaced to inbound callers. The code is stable
// across releases; the message is human-readable and free-form.
type Error struct {
	Code    int
	Message string
}

// NewError creates a coded Error.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a coded Error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("outpaint: [%d] %s", e.Code, e.Message)
}

// CodeOf extracts the stable numeric code from err. Uncoded errors map
// to CodeInternal; a nil error maps to CodeOK.
func CodeOf(err error) int {
	if err == nil {
		return CodeOK
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	switch {
	case errors.Is(err, ErrPoolExhausted):
		return CodePoolExhausted
	case errors.Is(err, ErrAcquireTimeout):
		return CodeAcquireTimeout
	}
	return CodeInternal
}

// MessageOf extracts a human-readable message from err, unwrapping the
// coded form when present.
func MessageOf(err error) string {
	if err == nil {
		return "ok"
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return err.Error()
}
