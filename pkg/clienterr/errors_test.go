package clienterr

import (
	"errors"
	"net/http"
	"testing"
)

func TestErrorMatchesSentinelThroughWrapChain(t *testing.T) {
	sessionErr := &Error{Kind: KindSession, Status: http.StatusForbidden, Message: "session quota exceeded"}
	searchErr := Wrap(KindSearch, "", sessionErr)

	if !errors.Is(searchErr, ErrSearch) {
		t.Fatalf("expected search sentinel match")
	}
	if !errors.Is(searchErr, ErrSession) {
		t.Fatalf("expected wrapped session sentinel match")
	}
	if errors.Is(searchErr, ErrAuth) {
		t.Fatalf("unexpected auth sentinel match")
	}
	if searchErr.Error() != "session quota exceeded" {
		t.Fatalf("unexpected message: %q", searchErr.Error())
	}
	if got := StatusOf(searchErr); got != http.StatusForbidden {
		t.Fatalf("unexpected status: %d", got)
	}
}

func TestNotAuthenticatedKind(t *testing.T) {
	err := NotAuthenticated()
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected not-authenticated sentinel")
	}
	if err.Error() == "" {
		t.Fatalf("expected user-facing message")
	}
}

func TestNewConnectionKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewConnection(cause)
	if !errors.Is(err, ErrConnection) || !errors.Is(err, cause) {
		t.Fatalf("expected connection sentinel and cause, got %v", err)
	}
}
