package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorKind uint8

const (
	kindOther errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// StoreError carries the gRPC classification of a failed Firestore call and satisfies
// repositories.RepositoryError.
type StoreError struct {
	Op   string
	Code codes.Code
	Err  error
	kind errorKind
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("firestore %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error       { return e.Err }
func (e *StoreError) IsNotFound() bool    { return e.kind == kindNotFound }
func (e *StoreError) IsConflict() bool    { return e.kind == kindConflict }
func (e *StoreError) IsUnavailable() bool { return e.kind == kindUnavailable }

func kindOf(code codes.Code) errorKind {
	switch code {
	case codes.NotFound:
		return kindNotFound
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition:
		return kindConflict
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
		return kindUnavailable
	default:
		return kindOther
	}
}

// Classify wraps err with the operation name. Cancellation is returned as the plain context error so
// callers can tell an aborted request from a backend fault.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		return context.Canceled
	}
	var existing *StoreError
	if errors.As(err, &existing) {
		return existing
	}
	code := status.Code(err)
	if errors.Is(err, context.DeadlineExceeded) {
		code = codes.DeadlineExceeded
	}
	return &StoreError{Op: op, Code: code, Err: err, kind: kindOf(code)}
}
