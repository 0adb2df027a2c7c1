// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package clamd

import "fmt"

// CommandMode selects how commands are framed on the wire and how clamd
// terminates its reply.
type CommandMode int

const (
	// CommandModeNull sends "zINSTREAM\0"; clamd replies NUL-terminated.
	CommandModeNull CommandMode = iota
	// CommandModeNewline sends "nINSTREAM\n"; clamd replies newline-terminated.
	CommandModeNewline
	// CommandModeLegacy sends the unprefixed "INSTREAM\n".
	CommandModeLegacy
)

// Command returns the wire bytes for cmd in this mode.
func (m CommandMode) Command(cmd string) []byte {
	switch m {
	case CommandModeNewline:
		return []byte("n" + cmd + "\n")
	case CommandModeLegacy:
		return []byte(cmd + "\n")
	default:
		return []byte("z" + cmd + "\x00")
	}
}

// Terminator returns the byte ending a reply in this mode.
func (m CommandMode) Terminator() byte {
	if m == CommandModeNull {
		return 0
	}
	return '\n'
}

func (m CommandMode) valid() bool {
	return m >= CommandModeNull && m <= CommandModeLegacy
}

// String implements fmt.Stringer.
func (m CommandMode) String() string {
	switch m {
	case CommandModeNull:
		return "null"
	case CommandModeNewline:
		return "newline"
	case CommandModeLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("CommandMode(%d)", int(m))
	}
}

// ParseCommandMode maps a configuration value to a CommandMode.
// The empty string selects CommandModeNull.
func ParseCommandMode(s string) (CommandMode, error) {
	switch s {
	case "", "null", "z":
		return CommandModeNull, nil
	case "newline", "n":
		return CommandModeNewline, nil
	case "legacy":
		return CommandModeLegacy, nil
	}
	return 0, newConfigurationError(fmt.Sprintf("unknown command mode %q", s), nil)
}
