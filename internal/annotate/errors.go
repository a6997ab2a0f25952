package annotate

import "fmt"

// ErrorCode classifies fatal engine failures. Per-item failures never use
// this type; they are recorded as ledger events and the run continues.
type ErrorCode string

const (
	ErrorInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrorInputScan     ErrorCode = "INPUT_SCAN_ERROR"
	ErrorLedgerIO      ErrorCode = "LEDGER_IO_ERROR"
	ErrorOutputScan    ErrorCode = "OUTPUT_SCAN_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("annotate: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("annotate: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
