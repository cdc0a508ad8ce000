package migrate

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"transient", Transient("CreateSnapshot", errors.New("Throttling")), ErrorKindTransient},
		{"terminal", Terminal("CopySnapshot", errors.New("AccessDenied")), ErrorKindTerminal},
		{"timeout", Timeout("snapshot", errors.New("exceeded max wait time")), ErrorKindTimeout},
		{"state conflict", StateConflict("stop", errors.New("IncorrectInstanceState")), ErrorKindStateConflict},
		{"wrapped", fmt.Errorf("outer: %w", Transient("op", errors.New("Throttling"))), ErrorKindTransient},
		{"unclassified", errors.New("something else"), ErrorKindTerminal},
		{"nil-ish plain", fmt.Errorf("plain"), ErrorKindTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	inner := errors.New("RequestLimitExceeded")
	err := Transient("CreateSnapshot", inner)
	if !errors.Is(err, inner) {
		t.Errorf("wrapped error lost the cause")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As failed")
	}
	if pe.Op != "CreateSnapshot" {
		t.Errorf("Op = %q", pe.Op)
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := Timeout("snapshot", errors.New("exceeded max wait time"))
	want := "snapshot: timeout error: exceeded max wait time"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsHelpers(t *testing.T) {
	if !IsTransient(Transient("op", errors.New("x"))) {
		t.Error("IsTransient(transient) = false")
	}
	if IsTransient(Terminal("op", errors.New("x"))) {
		t.Error("IsTransient(terminal) = true")
	}
	if !IsTimeout(Timeout("op", errors.New("x"))) {
		t.Error("IsTimeout(timeout) = false")
	}
	if IsTimeout(errors.New("deadline-ish text")) {
		t.Error("IsTimeout(plain) = true")
	}
}
