package tui

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownCommand is returned for a composer command not in commandTable.
var ErrUnknownCommand = errors.New("unknown command")

type commandSpec struct {
	maxArgs int
	usage   string
}

var commandTable = map[string]commandSpec{
	"older": {usage: "/older"},
	"retry": {maxArgs: 1, usage: "/retry [local-id]"},
	"close": {usage: "/close"},
}

// Command is a composer line typed after '/'.
type Command struct {
	Name string
	Args []string
}

// Arg returns the i-th argument, or "" when it was not given.
func (c Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// ParseCommand splits line into a command name and its arguments. The leading
// '/' is optional and names are case-insensitive.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty line, try %s", ErrUnknownCommand, CommandUsage())
	}
	cmd := Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
	spec, ok := commandTable[cmd.Name]
	if !ok {
		return cmd, fmt.Errorf("%w /%s, try %s", ErrUnknownCommand, cmd.Name, CommandUsage())
	}
	if len(cmd.Args) > spec.maxArgs {
		return cmd, fmt.Errorf("usage: %s", spec.usage)
	}
	return cmd, nil
}

// CommandUsage lists every composer command.
func CommandUsage() string {
	usages := make([]string, 0, len(commandTable))
	for _, spec := range commandTable {
		usages = append(usages, spec.usage)
	}
	sort.Strings(usages)
	return strings.Join(usages, " ")
}
