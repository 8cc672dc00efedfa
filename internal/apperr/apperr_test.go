package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error", base, Fatal},
		{"not found", E(NotFound, "store.GetPost", base), NotFound},
		{"wrapped transient", fmt.Errorf("outer: %w", E(Transient, "store.AddReader", base)), Transient},
		{"errorf", Errorf(Invalid, "chat.Send", "empty body"), Invalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := E(Conflict, "store.CreateUser", base)
	if !errors.Is(err, base) {
		t.Error("Expected wrapped error to match base")
	}
	if err.Error() != "store.CreateUser: boom" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if IsTransient(nil) {
		t.Error("nil must not be transient")
	}
}
