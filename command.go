package hrband

import "strconv"

// Byte 0 of every inbound frame packs the command type in the low nibble and
// the rolling device serial in the high nibble.
const (
	CommandMask = 0x0F
	SerialMask  = 0xF0
	SerialShift = 4
)

// CommandType identifies the kind of an inbound frame.
type CommandType uint8

const (
	CommandProfileRequest CommandType = 0x1
	CommandClockRequest   CommandType = 0x2
	CommandLiveSample     CommandType = 0x3
	CommandStatus         CommandType = 0x6
	CommandBurst          CommandType = 0x8
)

// Known reports whether the command type has a defined meaning. Unknown
// command types are still decoded; newer firmware adds message kinds.
func (c CommandType) Known() bool {
	switch c {
	case CommandProfileRequest, CommandClockRequest, CommandLiveSample, CommandStatus, CommandBurst:
		return true
	}
	return false
}

func (c CommandType) String() string {
	switch c {
	case CommandProfileRequest:
		return "profile-request"
	case CommandClockRequest:
		return "clock-request"
	case CommandLiveSample:
		return "live-sample"
	case CommandStatus:
		return "status"
	case CommandBurst:
		return "burst"
	default:
		return "unknown(" + strconv.Itoa(int(c)) + ")"
	}
}

// Command words of outbound frames.
const (
	CmdReadHistory  = 0x01
	CmdAcknowledge  = 0xE0
	CmdPushProfile  = 0xE1
	CmdPushClock    = 0xE2
	AckStatusOK     = 0x00
	burstEndSerial  = 5
	firstDataSerial = 1
	lastDataSerial  = 4
)
