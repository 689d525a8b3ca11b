package cosched

import (
	"errors"
	"strings"
	"testing"
)

func TestPanicErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	pe := &PanicError{Value: cause}
	if !errors.Is(pe, cause) {
		t.Error("error panic value not reachable via errors.Is")
	}
	if pe.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want the cause", pe.Unwrap())
	}

	pe = &PanicError{Value: 42}
	if pe.Unwrap() != nil {
		t.Errorf("Unwrap() = %v for a non-error value, want nil", pe.Unwrap())
	}
}

func TestPanicErrorMessage(t *testing.T) {
	pe := &PanicError{Value: "out of cheese"}
	if got := pe.Error(); !strings.Contains(got, "out of cheese") {
		t.Errorf("Error() = %q", got)
	}
}
