package svcerr

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestConstructedErrorsMatchSentinels(t *testing.T) {
	err := NotFound("brain %q missing", "b0")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("errors.Is(NotFound, ErrNotFound): want=true got=false")
	}
	if errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("errors.Is(NotFound, ErrInvalidArgument): want=false got=true")
	}
}

func TestGRPCCodeResolvesWrappedErrors(t *testing.T) {
	inner := InvalidArgument("bad spec")
	wrapped := fmt.Errorf("validating brain: %w", inner)
	if got := GRPCCode(wrapped); got != codes.InvalidArgument {
		t.Fatalf("GRPCCode: want=%v got=%v", codes.InvalidArgument, got)
	}
}

func TestGRPCCodeDefaultsToInternal(t *testing.T) {
	if got := GRPCCode(errors.New("disk on fire")); got != codes.Internal {
		t.Fatalf("GRPCCode: want=%v got=%v", codes.Internal, got)
	}
}

func TestGRPCCodeSentinelChain(t *testing.T) {
	wrapped := fmt.Errorf("reading session: %w", ErrAborted)
	if got := GRPCCode(wrapped); got != codes.Aborted {
		t.Fatalf("GRPCCode: want=%v got=%v", codes.Aborted, got)
	}
}

func TestToStatus(t *testing.T) {
	err := ToStatus(Unauthenticated("missing api key"))
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("status.FromError: want ok")
	}
	if st.Code() != codes.Unauthenticated {
		t.Fatalf("status code: want=%v got=%v", codes.Unauthenticated, st.Code())
	}
	if ToStatus(nil) != nil {
		t.Fatalf("ToStatus(nil): want=nil")
	}
}

func TestGRPCStatusInterface(t *testing.T) {
	err := NotImplemented("ucb sampling")
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("status.FromError on *Error: want ok")
	}
	if st.Code() != codes.Unimplemented {
		t.Fatalf("status code: want=%v got=%v", codes.Unimplemented, st.Code())
	}
}
