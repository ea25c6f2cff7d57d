package session

import (
	"errors"
	"testing"
)

func TestResolvePrecedence(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultSessionName)
	}
	if err := SetDefault("work"); err != nil {
		t.Fatalf("SetDefault() error = %v", err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() = %q, want %q", got, "work")
	}
	if got := Resolve("other"); got != "other" {
		t.Errorf("Resolve(other) = %q, want flag to win", got)
	}
}

func TestSetDefaultRejectsBadName(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var nameErr *NameError
	if err := SetDefault("../escape"); !errors.As(err, &nameErr) {
		t.Errorf("SetDefault(../escape) error = %v, want *NameError", err)
	}
}
