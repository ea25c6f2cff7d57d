package tui

import (
	"errors"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		name string
		arg  string
	}{
		{"older", "older", ""},
		{"  Retry   local-abc ", "retry", "local-abc"},
		{"/close", "close", ""},
	}
	for _, tt := range tests {
		cmd, err := ParseCommand(tt.in)
		if err != nil {
			t.Errorf("ParseCommand(%q) error = %v", tt.in, err)
			continue
		}
		if cmd.Name != tt.name || cmd.Arg(0) != tt.arg {
			t.Errorf("ParseCommand(%q) = %+v, want {%s [%s]}", tt.in, cmd, tt.name, tt.arg)
		}
	}
}

func TestParseCommandErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "/", "dance"} {
		if _, err := ParseCommand(in); !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("ParseCommand(%q) error = %v, want ErrUnknownCommand", in, err)
		}
	}

	_, err := ParseCommand("retry a b")
	if err == nil || !strings.Contains(err.Error(), "/retry [local-id]") {
		t.Errorf("ParseCommand(retry a b) error = %v, want usage", err)
	}
	if _, err := ParseCommand("close now"); err == nil {
		t.Error("ParseCommand(close now) expected an error")
	}
}

func TestCommandUsage(t *testing.T) {
	if got, want := CommandUsage(), "/close /older /retry [local-id]"; got != want {
		t.Errorf("CommandUsage() = %q, want %q", got, want)
	}
}
