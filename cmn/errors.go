// Package cmn provides common low-level types and utilities shared across
// the policy-domain core: error codes, retry helpers, and process config.
/*
 * Copyright (c) 2024, ARTS-EDT Project. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is the enumerated set of user-visible failure codes. Numeric
// values are opaque; callers must compare against the named constants.
type Status int

const (
	OK Status = iota
	ENOMEM
	EINVAL
	ENOTSUP
	EBUSY
	EPEND
	EACCES
	EGUIDEXISTS
	ENOENT
	EPERM
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case ENOMEM:
		return "ENOMEM"
	case EINVAL:
		return "EINVAL"
	case ENOTSUP:
		return "ENOTSUP"
	case EBUSY:
		return "EBUSY"
	case EPEND:
		return "EPEND"
	case EACCES:
		return "EACCES"
	case EGUIDEXISTS:
		return "EGUIDEXISTS"
	case ENOENT:
		return "ENOENT"
	case EPERM:
		return "EPERM"
	default:
		return "EUNKNOWN"
	}
}

// StatusError wraps a Status with the causing error and the operation it
// was reported from, the way the teacher wraps causes under
// cmn.NewErrFailedTo rather than bubbling up bare error strings.
type StatusError struct {
	Status Status
	Where  string
	Cause  error
}

func (e *StatusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Where, e.Status, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Where, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Cause }

// NewErr builds a StatusError, wrapping cause (which may be nil) with
// github.com/pkg/errors so a stack trace is attached at the first site an
// unhandled-case sink turns into a reported error.
func NewErr(status Status, where string, cause error) *StatusError {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &StatusError{Status: status, Where: where, Cause: cause}
}

// StatusOf extracts the Status from err, defaulting to EINVAL for errors
// that did not originate in this package (an unhandled-case sink must never
// swallow an error silently; the core treats an un-typed error as EINVAL,
// its most conservative programming-error code).
func StatusOf(err error) Status {
	if err == nil {
		return OK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return EINVAL
}

// IsPending reports whether err represents the EBUSY/EPEND "transient
// coordination" class the router must surface as PENDING rather than fail.
func IsPending(err error) bool {
	switch StatusOf(err) {
	case EBUSY, EPEND:
		return true
	default:
		return false
	}
}
