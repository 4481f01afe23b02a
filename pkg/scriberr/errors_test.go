package scriberr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(CodeEventNotFound, "event not found in session log").
		WithContext("key", "12345")

	got := err.Error()
	if !strings.Contains(got, "[E201]") {
		t.Errorf("Error() = %q, want code E201 in message", got)
	}
	if !strings.Contains(got, "key=12345") {
		t.Errorf("Error() = %q, want context in message", got)
	}
}

func TestWrapNil(t *testing.T) {
	if got := Wrap(nil, CodeDecodeFailed, "decode"); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(cause, CodeDecodeFailed, "decode failed")

	if !errors.Is(err, cause) {
		t.Error("wrapped error should match its cause via errors.Is")
	}
}

func TestIsCode(t *testing.T) {
	tests := []struct {
		err  error
		code Code
		want bool
	}{
		{MissingCharacter("1", "abc"), CodeMissingCharacter, true},
		{MissingCaster(), CodeMissingCaster, true},
		{MissingCaster(), CodeMissingCharacter, false},
		{fmt.Errorf("plain"), CodeUnknown, false},
		{fmt.Errorf("wrapped: %w", StringTarget("x")), CodeStringTarget, true},
	}

	for _, tt := range tests {
		if got := IsCode(tt.err, tt.code); got != tt.want {
			t.Errorf("IsCode(%v, %s) = %v, want %v", tt.err, tt.code, got, tt.want)
		}
	}
}

func TestIsDiscard(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{StringTarget("Ghost"), true},
		{NoCombatState(), true},
		{MissingCaster(), false},
		{MissingCharacter("1", "abc"), false},
		{fmt.Errorf("plain"), false},
	}

	for _, tt := range tests {
		if got := IsDiscard(tt.err); got != tt.want {
			t.Errorf("IsDiscard(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(fmt.Errorf("plain")); got != CodeUnknown {
		t.Errorf("GetCode(plain) = %s, want %s", got, CodeUnknown)
	}
	if got := GetCode(NoCombatState()); got != CodeNoCombatState {
		t.Errorf("GetCode = %s, want %s", got, CodeNoCombatState)
	}
}
