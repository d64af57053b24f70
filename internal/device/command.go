package device

// Command is an inbound control message.
type Command int

const (
	// CommandUnknown is any payload that is not a recognized command.
	CommandUnknown Command = iota
	// CommandOn switches the auxiliary output on.
	CommandOn
	// CommandOff switches the auxiliary output off.
	CommandOff
	// CommandReset asks the state machine to leave ERROR.
	CommandReset
)

// String returns the wire form of the command.
func (c Command) String() string {
	switch c {
	case CommandOn:
		return "ON"
	case CommandOff:
		return "OFF"
	case CommandReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// ParseCommand matches payload against the literal command words.
// Matching is exact: "on" or "ON\n" are not commands.
func ParseCommand(payload string) Command {
	switch payload {
	case "ON":
		return CommandOn
	case "OFF":
		return CommandOff
	case "RESET":
		return CommandReset
	default:
		return CommandUnknown
	}
}
