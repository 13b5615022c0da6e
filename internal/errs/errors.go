package errs

import (
	"errors"
	"fmt"
)

// Terminal scan outcomes surfaced as errors so callers can exit nonzero.
var (
	ErrScanTimeout    = errors.New("timed out waiting for scan verdict")
	ErrThreatDetected = errors.New("threat detected, file moved to quarantine")
	ErrScanFailed     = errors.New("malware scan failed")
)

// NetworkError covers transport failures and non-2xx responses on any of
// the three backend calls.
type NetworkError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: request to %s failed: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: request to %s returned status %d", e.Op, e.URL, e.StatusCode)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError marks a 2xx response whose body did not match the expected
// shape. Malformed payloads stop the attempt instead of propagating zero
// values downstream.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a file that exceeds the size ceiling.
type ValidationError struct {
	Filename string
	Size     int64
	Limit    int64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("file %s is %d bytes, exceeding the %d byte limit", e.Filename, e.Size, e.Limit)
}
