package hrband

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Gender codes understood by the band.
type Gender uint8

const (
	GenderFemale Gender = 0
	GenderMale   Gender = 1
)

// Profile is the user profile pushed to the band.
type Profile struct {
	WeightKg     float64
	AgeYears     uint8
	HeightCm     uint8
	StepLengthCm uint8
	Gender       Gender
}

// DefaultProfile is used by the resend policy when no profile is configured.
var DefaultProfile = Profile{
	WeightKg:     70,
	AgeYears:     30,
	HeightCm:     175,
	StepLengthCm: 75,
	Gender:       GenderMale,
}

func (p Profile) weightUnits() uint16 {
	w := math.Round(p.WeightKg * 10)
	switch {
	case w < 0:
		return 0
	case w > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(w)
}

// Policy selects how profile and clock requests from the band are answered.
type Policy uint8

const (
	// PolicyAcknowledge answers with a bare acknowledgment without resending
	// any values.
	PolicyAcknowledge Policy = iota

	// PolicyResend pushes the configured profile or the current time.
	PolicyResend
)

func (p Policy) String() string {
	switch p {
	case PolicyAcknowledge:
		return "acknowledge"
	case PolicyResend:
		return "resend"
	default:
		return fmt.Sprintf("Policy(%d)", uint8(p))
	}
}

// ParsePolicy parses the names returned by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "acknowledge":
		return PolicyAcknowledge, nil
	case "resend":
		return PolicyResend, nil
	}
	return 0, fmt.Errorf("hrband: unknown handshake policy %q", s)
}

// Handshake performs the one-shot exchanges with the band: profile push,
// clock push and simple acknowledgments. Every method issues exactly one
// write and does not wait for a reply.
type Handshake struct {
	transport Transport
	channel   ChannelID
	policy    Policy
	profile   Profile
	now       func() time.Time
	log       *logrus.Entry
}

// NewHandshake returns a Handshake writing to ch on t.
func NewHandshake(t Transport, ch ChannelID, opts ...Option) *Handshake {
	o := buildOptions(opts)
	return &Handshake{
		transport: t,
		channel:   ch,
		policy:    o.policy,
		profile:   o.profile,
		now:       o.now,
		log:       o.log,
	}
}

// PushProfile sends the user profile.
func (h *Handshake) PushProfile(serial uint8, p Profile) error {
	return h.write("profile", EncodeProfile(serial, p))
}

// PushClock sends t as the band's wall clock.
func (h *Handshake) PushClock(serial uint8, t time.Time) error {
	return h.write("clock", EncodeClock(serial, t))
}

// AcknowledgeSimple sends a zero-payload acknowledgment for a non-burst
// request.
func (h *Handshake) AcknowledgeSimple(serial uint8) error {
	return h.write("ack", EncodeAck(serial))
}

// Respond answers a ProfileRequested or ClockRequested event according to the
// configured policy. Other events are ignored.
func (h *Handshake) Respond(ev Event) error {
	switch ev := ev.(type) {
	case ProfileRequested:
		if h.policy == PolicyResend {
			return h.PushProfile(ev.Serial, h.profile)
		}
		return h.AcknowledgeSimple(ev.Serial)
	case ClockRequested:
		if h.policy == PolicyResend {
			return h.PushClock(ev.Serial, h.now())
		}
		return h.AcknowledgeSimple(ev.Serial)
	}
	return nil
}

func (h *Handshake) write(kind string, frame []byte) error {
	if err := h.transport.Write(h.channel, frame); err != nil {
		h.log.WithFields(logrus.Fields{"frame": kind, "error": err}).Warn("handshake write failed")
		return fmt.Errorf("%w: %s: %w", ErrTransportWrite, kind, err)
	}
	h.log.WithField("frame", kind).Debugf("handshake sent % x", frame)
	return nil
}
