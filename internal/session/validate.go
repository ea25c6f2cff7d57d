package session

import (
	"fmt"
	"regexp"
)

const namePattern = `^[a-z0-9_-]{1,64}$`

var nameRegexp = regexp.MustCompile(namePattern)

// NameError reports a session name that cannot be used as a directory name.
type NameError struct {
	Name string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("invalid session name %q: must match %s", e.Name, namePattern)
}

// ValidateName checks that name is a usable session name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return &NameError{Name: name}
	}
	return nil
}
