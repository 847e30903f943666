package apperr

import (
	"errors"
	"testing"
)

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(Transport, "quote fetch failed", cause)

	if !errors.Is(err, err) {
		t.Fatalf("expected self-match via errors.Is")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap to expose cause")
	}
	if kind, ok := Of(err); !ok || kind != Transport {
		t.Fatalf("Of() = %v, %v; want TRANSPORT, true", kind, ok)
	}
}

func TestIsKindAcrossWrap(t *testing.T) {
	err := Wrap(CapacityExceeded, "stream cap hit", nil)
	if !IsKind(err, CapacityExceeded) {
		t.Fatalf("expected IsKind to match CAPACITY_EXCEEDED")
	}
	if IsKind(err, StaleData) {
		t.Fatalf("did not expect IsKind to match STALE_DATA")
	}
	if IsKind(errors.New("plain"), Transport) {
		t.Fatalf("plain errors must never match a Kind")
	}
}

func TestIsMatchesByKindNotIdentity(t *testing.T) {
	a := New(StoreBusy, "locked")
	b := New(StoreBusy, "different message, same kind")
	if !errors.Is(a, b) {
		t.Fatalf("expected two *Error values with the same Kind to match via errors.Is")
	}
}
