package apierr

import (
	"errors"
	"testing"
)

func TestNewHasNoCause(t *testing.T) {
	e := New(Validation, "bad input")
	if e.Unwrap() != nil {
		t.Fatalf("New() error must not wrap a cause")
	}
	if e.Code != Validation {
		t.Fatalf("Code = %v, want Validation", e.Code)
	}
}

func TestWrapPreservesCauseInChain(t *testing.T) {
	cause := errors.New("underlying store failure")
	e := Wrap(PersistConflict, "could not persist", cause)
	if !errors.Is(e, cause) {
		t.Fatalf("errors.Is(e, cause) = false, want true")
	}
}

func TestAsExtractsErrorFromChain(t *testing.T) {
	inner := New(NotFound, "device missing")
	wrapped := errors.Join(errors.New("context"), inner)
	e, ok := As(wrapped)
	if !ok {
		t.Fatalf("As() did not find the *Error in the chain")
	}
	if e.Code != NotFound {
		t.Fatalf("Code = %v, want NotFound", e.Code)
	}
}

func TestAsReturnsFalseForUnrelatedError(t *testing.T) {
	if _, ok := As(errors.New("plain")); ok {
		t.Fatalf("As() found an *Error in a plain error")
	}
}

func TestCodeOfDefaultsToInternalForUnclassifiedErrors(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != Internal {
		t.Fatalf("CodeOf(plain) = %v, want Internal", got)
	}
}

func TestCodeOfReturnsWrappedCode(t *testing.T) {
	e := New(Replay, "nonce reused")
	if got := CodeOf(e); got != Replay {
		t.Fatalf("CodeOf(e) = %v, want Replay", got)
	}
}

func TestErrorStringIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	e := Wrap(RPCTransient, "rpc call failed", cause)
	got := e.Error()
	if got == "" {
		t.Fatalf("Error() returned empty string")
	}
	if !errors.Is(e, cause) {
		t.Fatalf("wrapped cause must remain reachable via errors.Is")
	}
}
