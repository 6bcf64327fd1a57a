package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	sentinel := State(CodeNotCurrentTurn, "not current turn")
	err := fmt.Errorf("submit: %w", State(CodeNotCurrentTurn, "participant 4 is not on turn"))

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if errors.Is(err, State(CodeGameNotRunning, "game not running")) {
		t.Fatalf("expected different code not to match")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{Validation(CodeInvalidInput, "bad"), KindValidation},
		{State(CodeGameNotRunning, "x"), KindState},
		{NotFound("missing"), KindNotFound},
		{Persistence("write", errors.New("disk full")), KindPersistence},
		{Transport("write", errors.New("broken pipe")), KindTransport},
		{errors.New("plain"), KindUnknown},
		{nil, KindUnknown},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v): expected %s, got %s", tc.err, tc.want, got)
		}
	}
}

func TestPersistenceKeepsTypedCause(t *testing.T) {
	if Persistence("noop", nil) != nil {
		t.Fatalf("expected nil for nil cause")
	}
	conflict := State(CodeNotCurrentTurn, "turn moved")
	if got := Persistence("apply", conflict); got != conflict {
		t.Fatalf("expected typed cause to pass through, got %v", got)
	}
	wrapped := Persistence("apply", errors.New("conn reset"))
	if CodeOf(wrapped) != CodePersistence {
		t.Fatalf("expected persistence code, got %q", CodeOf(wrapped))
	}
	if wrapped.Error() != "apply: conn reset" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
}
