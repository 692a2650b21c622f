package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindClassifiesWrappedSentinels(t *testing.T) {
	errPending := Conflict("pending_intent_exists")
	wrapped := fmt.Errorf("create intent: %w", errPending)

	if !errors.Is(wrapped, errPending) {
		t.Fatal("expected wrapped error to match its sentinel")
	}
	if got := Kind(wrapped); got != ErrConflict {
		t.Fatalf("expected conflict kind, got %v", got)
	}
	if got := Kind(errors.New("boom")); got != ErrInternal {
		t.Fatalf("expected internal kind, got %v", got)
	}
	if wrapped.Error() != "create intent: pending_intent_exists" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Gateway("gateway_timeout")) {
		t.Fatal("gateway errors are retryable")
	}
	if Retryable(Validation("invalid_mac")) {
		t.Fatal("validation errors are not retryable")
	}
	if Retryable(nil) {
		t.Fatal("nil is not retryable")
	}
}

func TestCodeUnwrapsSentinel(t *testing.T) {
	err := fmt.Errorf("load plan: %w", NotFound("plan_not_found"))
	if got := Code(err); got != "plan_not_found" {
		t.Fatalf("expected plan_not_found, got %q", got)
	}
	if got := Code(errors.New("boom")); got != "" {
		t.Fatalf("expected empty code, got %q", got)
	}
}
