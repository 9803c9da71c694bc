package hrband

import (
	"encoding/binary"
	"fmt"
	"time"
)

// MinFrameSize is the smallest frame that carries a header and a checksum.
const MinFrameSize = 2

// Packet is a decoded inbound frame.
//
// Decoding never fails. Fields whose bytes are missing stay unset and
// Truncated is raised; a bad checksum only clears ChecksumValid.
type Packet struct {
	Command      CommandType
	DeviceSerial uint8
	PacketSerial uint8

	// Timestamp is the clock value carried by the first burst frame. It is
	// the zero time when absent, zero, or not before the decode time.
	Timestamp time.Time

	Samples []uint8

	BurstLength    uint8
	HasBurstLength bool

	Checksum      uint8
	ChecksumValid bool
	Truncated     bool

	Raw []byte
}

func (p Packet) String() string {
	return fmt.Sprintf("%s serial=%d packet=%d len=%d checksum-ok=%t", p.Command, p.DeviceSerial, p.PacketSerial, len(p.Raw), p.ChecksumValid)
}

// Checksum returns the sum of all bytes modulo 256.
func Checksum(b []byte) uint8 {
	var sum uint8
	for _, c := range b {
		sum += c
	}
	return sum
}

// Decode decodes a raw notification frame using the current wall clock for
// timestamp plausibility.
func Decode(raw []byte) Packet {
	return DecodeAt(raw, time.Now())
}

// DecodeAt decodes a raw notification frame. Timestamps at or after now are
// discarded.
func DecodeAt(raw []byte, now time.Time) Packet {
	p := Packet{Raw: append([]byte(nil), raw...)}
	if len(raw) < MinFrameSize {
		p.Truncated = true
		if len(raw) == 1 {
			p.Command = CommandType(raw[0] & CommandMask)
			p.DeviceSerial = (raw[0] & SerialMask) >> SerialShift
		}
		return p
	}

	p.Command = CommandType(raw[0] & CommandMask)
	p.DeviceSerial = (raw[0] & SerialMask) >> SerialShift
	p.PacketSerial = raw[1]
	p.Checksum = raw[len(raw)-1]
	p.ChecksumValid = Checksum(raw[:len(raw)-1]) == p.Checksum

	// body is everything before the checksum byte.
	body := raw[:len(raw)-1]

	switch p.Command {
	case CommandBurst:
		switch {
		case p.PacketSerial == firstDataSerial:
			if len(body) < 6 {
				p.Truncated = true
				break
			}
			p.Timestamp = plausibleTime(binary.BigEndian.Uint32(body[2:6]), now)
			if len(body) > 6 {
				p.Samples = append([]uint8(nil), body[6:]...)
			}
		case p.PacketSerial > firstDataSerial && p.PacketSerial <= lastDataSerial:
			if len(body) <= 2 {
				p.Truncated = true
				break
			}
			p.Samples = append([]uint8(nil), body[2:]...)
		case p.PacketSerial == burstEndSerial:
			if len(body) <= 2 {
				p.Truncated = true
				break
			}
			p.BurstLength = body[2]
			p.HasBurstLength = true
		default:
			// No layout is defined for other positions.
			p.Truncated = true
		}
	case CommandLiveSample:
		if len(body) < 2 {
			p.Truncated = true
			break
		}
		p.Samples = []uint8{body[1]}
	}
	return p
}

func plausibleTime(secs uint32, now time.Time) time.Time {
	if secs == 0 || int64(secs) >= now.Unix() {
		return time.Time{}
	}
	return time.Unix(int64(secs), 0).UTC()
}

// Encode assembles an outbound frame: command word, serial, payload and the
// trailing checksum.
func Encode(command, serial uint8, payload ...byte) []byte {
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, command, serial)
	frame = append(frame, payload...)
	return append(frame, Checksum(frame))
}

// EncodeAck builds an acknowledgment frame with an optional status byte.
func EncodeAck(serial uint8, status ...byte) []byte {
	return Encode(CmdAcknowledge, serial, status...)
}

// EncodeProfile builds a user profile frame. Weight is sent in 0.1 kg units.
func EncodeProfile(serial uint8, p Profile) []byte {
	var weight [2]byte
	binary.BigEndian.PutUint16(weight[:], p.weightUnits())
	return Encode(CmdPushProfile, serial,
		weight[0], weight[1],
		p.AgeYears,
		p.HeightCm,
		p.StepLengthCm,
		uint8(p.Gender),
	)
}

// EncodeClock builds a clock frame carrying t as big-endian epoch seconds.
func EncodeClock(serial uint8, t time.Time) []byte {
	var secs [4]byte
	binary.BigEndian.PutUint32(secs[:], uint32(t.Unix()))
	return Encode(CmdPushClock, serial, secs[:]...)
}
