package hrband

import "time"

// Event is the application-level meaning of a decoded packet. The set of
// events is closed: Interpret only ever returns the types below.
type Event interface {
	event()
}

// ProfileRequested is sent by the band when it wants the user profile.
type ProfileRequested struct {
	Serial uint8
}

// ClockRequested is sent by the band when it wants the current time.
type ClockRequested struct {
	Serial uint8
}

// BurstData is one data frame of a history burst.
type BurstData struct {
	DeviceSerial uint8
	Ordinal      uint8
	Timestamp    time.Time // only set on the first frame of a burst
	Samples      []uint8
}

// BurstEnd closes a burst and declares how many data frames were sent.
type BurstEnd struct {
	DeviceSerial  uint8
	DeclaredCount int
}

// LiveSample is a heart rate reading sent in-band on the notify channel.
type LiveSample struct {
	BPM uint8
}

// Unsolicited is a frame with no defined handling. It is logged and dropped.
type Unsolicited struct {
	Packet Packet
}

// Malformed is a frame that failed validation. Reason is ErrChecksumMismatch
// or ErrTruncatedFrame.
type Malformed struct {
	Packet Packet
	Reason error
}

func (ProfileRequested) event() {}
func (ClockRequested) event()   {}
func (BurstData) event()        {}
func (BurstEnd) event()         {}
func (LiveSample) event()       {}
func (Unsolicited) event()      {}
func (Malformed) event()        {}

// Interpret classifies a decoded packet.
func Interpret(p Packet) Event {
	if !p.ChecksumValid {
		if p.Truncated && len(p.Raw) < MinFrameSize {
			return Malformed{Packet: p, Reason: ErrTruncatedFrame}
		}
		return Malformed{Packet: p, Reason: ErrChecksumMismatch}
	}
	if p.Truncated {
		return Malformed{Packet: p, Reason: ErrTruncatedFrame}
	}

	switch p.Command {
	case CommandProfileRequest:
		return ProfileRequested{Serial: p.DeviceSerial}
	case CommandClockRequest:
		return ClockRequested{Serial: p.DeviceSerial}
	case CommandLiveSample:
		return LiveSample{BPM: p.Samples[0]}
	case CommandBurst:
		if p.HasBurstLength {
			return BurstEnd{DeviceSerial: p.DeviceSerial, DeclaredCount: int(p.BurstLength)}
		}
		return BurstData{
			DeviceSerial: p.DeviceSerial,
			Ordinal:      p.PacketSerial,
			Timestamp:    p.Timestamp,
			Samples:      p.Samples,
		}
	default:
		return Unsolicited{Packet: p}
	}
}
