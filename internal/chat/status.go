package chat

import (
	"fmt"
	"strings"
)

// Status is the delivery state of a message. Values are ordered: Sent < Delivered < Seen.
type Status int

const (
	Sent Status = iota
	Delivered
	Seen
)

func (s Status) String() string {
	switch s {
	case Sent:
		return "Sent"
	case Delivered:
		return "Delivered"
	case Seen:
		return "Seen"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	return s >= Sent && s <= Seen
}

// ParseStatus parses a status name case-insensitively. Numeric forms 0..2 are accepted too.
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "sent", "0":
		return Sent, nil
	case "delivered", "1":
		return Delivered, nil
	case "seen", "read", "2":
		return Seen, nil
	default:
		return 0, fmt.Errorf("unknown message status %q", v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
