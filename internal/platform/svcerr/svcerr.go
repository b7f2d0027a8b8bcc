package svcerr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnauthenticated is a generic sentinel for API key failures.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrFailedPrecondition is a sentinel for operations against
	// resources in the wrong state.
	ErrFailedPrecondition = errors.New("failed precondition")
	// ErrAborted is a sentinel for lost races on shared files.
	ErrAborted = errors.New("aborted")
	// ErrNotImplemented is a sentinel for declared but unsupported
	// functionality.
	ErrNotImplemented = errors.New("not implemented")
)

// Error carries a gRPC code alongside the underlying error so service
// packages can classify failures without importing transport types.
type Error struct {
	Code codes.Code
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match constructed errors against the sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == codes.NotFound
	case ErrInvalidArgument:
		return e.Code == codes.InvalidArgument
	case ErrUnauthenticated:
		return e.Code == codes.Unauthenticated
	case ErrFailedPrecondition:
		return e.Code == codes.FailedPrecondition
	case ErrAborted:
		return e.Code == codes.Aborted
	case ErrNotImplemented:
		return e.Code == codes.Unimplemented
	}
	return false
}

// GRPCStatus lets google.golang.org/grpc/status resolve the code
// directly from handler return values.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Error())
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Code: codes.NotFound, Err: fmt.Errorf(format, args...)}
}

func InvalidArgument(format string, args ...interface{}) error {
	return &Error{Code: codes.InvalidArgument, Err: fmt.Errorf(format, args...)}
}

func Unauthenticated(format string, args ...interface{}) error {
	return &Error{Code: codes.Unauthenticated, Err: fmt.Errorf(format, args...)}
}

func FailedPrecondition(format string, args ...interface{}) error {
	return &Error{Code: codes.FailedPrecondition, Err: fmt.Errorf(format, args...)}
}

func Aborted(format string, args ...interface{}) error {
	return &Error{Code: codes.Aborted, Err: fmt.Errorf(format, args...)}
}

func NotImplemented(format string, args ...interface{}) error {
	return &Error{Code: codes.Unimplemented, Err: fmt.Errorf(format, args...)}
}

func Internal(format string, args ...interface{}) error {
	return &Error{Code: codes.Internal, Err: fmt.Errorf(format, args...)}
}

// GRPCCode resolves the code for an arbitrary error chain. Unclassified
// errors report as Internal.
func GRPCCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, ErrUnauthenticated):
		return codes.Unauthenticated
	case errors.Is(err, ErrFailedPrecondition):
		return codes.FailedPrecondition
	case errors.Is(err, ErrAborted):
		return codes.Aborted
	case errors.Is(err, ErrNotImplemented):
		return codes.Unimplemented
	}
	return codes.Internal
}

// ToStatus converts an error to a gRPC status error at the transport
// boundary.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(GRPCCode(err), err.Error())
}
