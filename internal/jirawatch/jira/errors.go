package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/andygrunwald/go-jira"
)

// TransientError is a tracker failure worth retrying later: the cycle that hit it is
// abandoned but the watcher keeps running
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient returns true if err is (or wraps) a TransientError
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// classify turns an error from the tracker into a TransientError when the failure is
// environmental. Other errors are returned unchanged.
func classify(op string, resp *jira.Response, err error) error {
	if err == nil {
		return nil
	}

	if resp != nil && resp.Response != nil {
		switch code := resp.StatusCode; {
		case code >= http.StatusInternalServerError, code == http.StatusTooManyRequests:
			return &TransientError{Op: op, Err: err}
		case code < http.StatusBadRequest:
			// The request succeeded but the body could not be decoded
			return &TransientError{Op: op, Err: err}
		default:
			return err
		}
	}

	if isTransportError(err) {
		return &TransientError{Op: op, Err: err}
	}
	return err
}

func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr)
}

// isGone returns true when the tracker refuses to produce an issue that used to exist
func isGone(resp *jira.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	return resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden
}

// errorMessages extracts the messages the tracker returned with a failed request
func errorMessages(err error) []string {
	var jiraErr *jira.Error
	if errors.As(err, &jiraErr) && len(jiraErr.ErrorMessages) > 0 {
		return jiraErr.ErrorMessages
	}
	return []string{err.Error()}
}
