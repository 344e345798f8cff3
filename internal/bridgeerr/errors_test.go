package bridgeerr

import (
	"errors"
	"strings"
	"testing"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	err := Wrap(Transport, "pipe write failed", errors.New("broken pipe"))
	if !Is(err, Transport) {
		t.Fatal("Is() should match the wrapped Kind")
	}
	if Is(err, Internal) {
		t.Fatal("Is() should not match an unrelated Kind")
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != Internal {
		t.Fatalf("KindOf() = %v, want Internal for an untyped error", got)
	}
	if got := KindOf(New(Conflict, "busy")); got != Conflict {
		t.Fatalf("KindOf() = %v, want Conflict", got)
	}
}

func TestUserMessageHidesCause(t *testing.T) {
	err := Wrap(Transport, "could not reach instance", errors.New("dial tcp: connection refused"))
	msg := UserMessage(err)
	if strings.Contains(msg, "connection refused") {
		t.Fatal("UserMessage should not leak the underlying cause text")
	}
	if !strings.Contains(msg, "could not reach instance") {
		t.Fatalf("UserMessage() = %q, want it to include the safe message", msg)
	}
}

func TestErrorIncludesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Internal, "failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("Unwrap should expose the cause via errors.Is")
	}
}
