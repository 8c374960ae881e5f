package deal

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindsAndCodes(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{NewError(OpJoin, ErrAlreadyActive, nil), KindPrecondition},
		{NewError(OpSubmitPrice, ErrInvalidPrice, nil), KindValidation},
		{NewError(OpJoin, ErrDealNotFound, nil), KindNotFound},
		{NewError(OpCreate, ErrUnavailable, errors.New("db down")), KindUnavailable},
		{fmt.Errorf("wrapped: %w", NewError("capture_card", ErrInvalidCardFormat, nil)), KindValidation},
		{ErrNoPendingAction, KindNotFound},
		{errors.New("foreign"), KindUnavailable},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.kind {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.kind)
		}
	}
	if Outcome(nil) != "ok" {
		t.Fatal("nil outcome should be ok")
	}
}

func TestErrorUnwrapsSentinelAndCause(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := NewError(OpConfirmDelivery, ErrUnavailable, cause)
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("errors.Is failed for %v", err)
	}
	if err.Error() != "confirm_delivery: service unavailable: pq: connection refused" {
		t.Fatalf("message = %q", err.Error())
	}
}
