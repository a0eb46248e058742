package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindWireNames(t *testing.T) {
	kinds := []Kind{
		Unknown, Validation, Transport, Authentication, Protocol,
		InvalidState, InvalidKeyLength, MalformedEnvelope,
		DecryptionFailure, Conflict, Storage, UnknownHost,
	}
	for _, k := range kinds {
		if got := KindFromString(k.String()); got != k {
			t.Errorf("KindFromString(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if KindFromString("never-a-kind") != Unknown {
		t.Error("unrecognized wire name should map to Unknown")
	}
}

func TestKindOfWrapped(t *testing.T) {
	inner := New(Transport, "dial failed", errors.New("refused"))
	outer := fmt.Errorf("connecting: %w", inner)

	if KindOf(outer) != Transport {
		t.Errorf("KindOf through a wrap = %v, want Transport", KindOf(outer))
	}
	if !IsKind(outer, Transport) {
		t.Error("IsKind should see through wrapping")
	}
	if IsKind(outer, Validation) {
		t.Error("IsKind matched the wrong kind")
	}
	if KindOf(errors.New("plain")) != Unknown {
		t.Error("plain errors should report Unknown")
	}
}

func TestErrorMessage(t *testing.T) {
	bare := New(Validation, "host cannot be empty", nil)
	if bare.Error() != "host cannot be empty" {
		t.Errorf("unexpected message %q", bare.Error())
	}

	withCause := New(Storage, "write failed", errors.New("disk full"))
	if withCause.Error() != "write failed: disk full" {
		t.Errorf("unexpected message %q", withCause.Error())
	}
	if !errors.Is(withCause, withCause.Err) {
		t.Error("Unwrap chain broken")
	}
}
