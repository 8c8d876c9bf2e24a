package errors

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CodeInternal, "internal error")
	if err.Code != CodeInternal {
		t.Errorf("expected code %s, got %s", CodeInternal, err.Code)
	}
	if err.Message != "internal error" {
		t.Errorf("expected message 'internal error', got '%s'", err.Message)
	}
	if err.Cause != nil {
		t.Error("expected cause to be nil")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CodeInternal, "error %d", 1)
	if err.Message != "error 1" {
		t.Errorf("expected message 'error 1', got '%s'", err.Message)
	}
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base error")
	err := Wrap(baseErr, CodeDatabase, "wrapper")

	if err.Code != CodeDatabase {
		t.Errorf("expected code %s, got %s", CodeDatabase, err.Code)
	}
	if err.Message != "wrapper" {
		t.Errorf("expected message 'wrapper', got '%s'", err.Message)
	}
	if err.Cause != baseErr {
		t.Error("expected cause to be baseErr")
	}

	if errors.Unwrap(err) != baseErr {
		t.Error("Unwrap should return baseErr")
	}
}

func TestWrapNil(t *testing.T) {
	err := Wrap(nil, CodeInternal, "msg")
	if err != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestHasCode(t *testing.T) {
	err := New(CodeNotFound, "not found")
	if !HasCode(err, CodeNotFound) {
		t.Error("HasCode should return true")
	}
	if HasCode(err, CodeInternal) {
		t.Error("HasCode should return false for different code")
	}
}

func TestGetCode(t *testing.T) {
	err := New(CodeClosed, "closed")
	if GetCode(err) != CodeClosed {
		t.Errorf("expected code %s, got %s", CodeClosed, GetCode(err))
	}
	if GetCode(errors.New("plain")) != CodeInternal {
		t.Error("GetCode on a plain error should fall back to CodeInternal")
	}
}

func TestWrapPreservesDetailsAndStack(t *testing.T) {
	base := New(CodeNotReady, "not ready").WithDetail("attempt", 1)
	wrapped := Wrap(base, CodeInvalidState, "state transition failed")

	if wrapped.Details["attempt"] != 1 {
		t.Error("expected wrapped error to preserve details from cause")
	}
	if len(wrapped.StackTrace) == 0 {
		t.Error("expected stack trace to be preserved")
	}
}

func TestStreamingCursorCodes(t *testing.T) {
	cases := []struct {
		code       Code
		wantStatus int
	}{
		{CodeNotReady, 503},
		{CodeClosed, 410},
		{CodeUnsupportedIsolation, 422},
		{CodeInterruptedExpected, 499},
		{CodeCancelled, 499},
	}
	for _, c := range cases {
		if got := c.code.HTTPStatusCode(); got != c.wantStatus {
			t.Errorf("%s: expected HTTP status %d, got %d", c.code, c.wantStatus, got)
		}
	}
}

func TestTimeoutIsClientError(t *testing.T) {
	if !CodeTimeout.IsClientError() {
		t.Error("CodeTimeout should classify as a client error (request timeout)")
	}
}
