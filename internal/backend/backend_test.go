package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestAsError_Wrapped(t *testing.T) {
	err := fmt.Errorf("upload: %w", &Error{Op: "upload", Status: 400, Message: "The resource already exists"})

	be, ok := AsError(err)
	if !ok {
		t.Fatal("AsError should find wrapped *Error")
	}
	if be.Message != "The resource already exists" {
		t.Errorf("Message = %q", be.Message)
	}
}

func TestAsError_OtherError(t *testing.T) {
	if _, ok := AsError(errors.New("connection refused")); ok {
		t.Error("AsError should return false for non-backend errors")
	}
}

func TestAccessTokenFromContext(t *testing.T) {
	if _, ok := AccessTokenFromContext(context.Background()); ok {
		t.Error("empty context should have no token")
	}
	if _, ok := AccessTokenFromContext(WithAccessToken(context.Background(), "")); ok {
		t.Error("empty token should be treated as absent")
	}

	got, ok := AccessTokenFromContext(WithAccessToken(context.Background(), "jwt"))
	if !ok || got != "jwt" {
		t.Errorf("token = %q, %v; want jwt, true", got, ok)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{&Error{Op: "signup", Status: 422, Message: "User already registered"}, OutcomeRejected},
		{fmt.Errorf("wrap: %w", &Error{Op: "x"}), OutcomeRejected},
		{errors.New("dial tcp: refused"), OutcomeError},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
