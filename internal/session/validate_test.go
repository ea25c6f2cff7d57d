package session

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work123", "my-session", "my_session", "a", strings.Repeat("a", 64)}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v", name, err)
		}
	}

	invalid := []string{"", "Main", "my session", "my.session", "..", strings.Repeat("a", 65), "my@session", "my/session"}
	for _, name := range invalid {
		err := ValidateName(name)
		var nameErr *NameError
		if !errors.As(err, &nameErr) {
			t.Errorf("ValidateName(%q) = %v, want *NameError", name, err)
			continue
		}
		if nameErr.Name != name {
			t.Errorf("NameError.Name = %q, want %q", nameErr.Name, name)
		}
	}
}
