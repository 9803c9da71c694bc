package hrband

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionState is the state of a retrieval session.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateRequesting
	StateCollecting
	StateCompleting
	StateDone
	StateAborted
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateCollecting:
		return "collecting"
	case StateCompleting:
		return "completing"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// HistorySample is one historical heart rate reading.
type HistorySample struct {
	Index int
	BPM   uint8
}

// History is the result of a completed retrieval.
type History struct {
	// Session identifies the retrieval that produced the history.
	Session uuid.UUID

	Samples []HistorySample

	// Start is the clock value of the first burst frame, or the zero time
	// when the band did not send a plausible one.
	Start time.Time

	Declared int
	Received int

	// Warning is set when the burst completed but looked suspicious, for
	// example ErrBurstCountMismatch. The samples are still valid.
	Warning error
}

// BPMs returns the readings without their indices.
func (h History) BPMs() []uint8 {
	out := make([]uint8, len(h.Samples))
	for i, s := range h.Samples {
		out[i] = s.BPM
	}
	return out
}

// Session drives one historical data exchange. It is not safe for concurrent
// use: all methods must be called from the goroutine that delivers frames.
// Result may be read from elsewhere once the state is terminal.
type Session struct {
	id      uuid.UUID
	state   SessionState
	write   func([]byte) error
	request uint8
	log     *logrus.Entry

	frames   map[uint8][]uint8
	start    time.Time
	lastAck  uint8
	acked    bool
	received int
	acks     int

	history History
	err     error
}

// NewSession returns an idle session that sends its frames through write.
func NewSession(write func([]byte) error, opts ...Option) *Session {
	o := buildOptions(opts)
	id := uuid.New()
	return &Session{
		id:      id,
		write:   write,
		request: o.request,
		log:     o.log.WithField("session", id.String()),
		frames:  make(map[uint8][]uint8),
	}
}

// ID returns the session's random identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current state.
func (s *Session) State() SessionState { return s.state }

// Acks returns how many acknowledgment frames were written successfully.
func (s *Session) Acks() int { return s.acks }

// Start sends the history request. A failed write leaves the session in
// StateRequesting and is reported as a start failure; the session should
// then be discarded.
func (s *Session) Start() error {
	if s.state != StateIdle {
		return fmt.Errorf("hrband: session already started (%s)", s.state)
	}
	s.state = StateRequesting
	frame := Encode(s.request, 0)
	if err := s.write(frame); err != nil {
		s.log.WithError(err).Error("history request failed")
		return &RetrievalError{
			Kind:    fmt.Errorf("%w: %w", ErrTransportWrite, err),
			Session: s.id,
			State:   s.state,
		}
	}
	s.log.Debugf("history requested % x", frame)
	return nil
}

// Handle feeds one interpreted event into the state machine.
func (s *Session) Handle(ev Event) {
	if s.state == StateIdle || s.state.Terminal() {
		return
	}
	switch ev := ev.(type) {
	case BurstData:
		s.handleData(ev)
	case BurstEnd:
		s.handleEnd(ev)
	case Malformed:
		s.log.WithFields(logrus.Fields{"reason": ev.Reason, "packet": ev.Packet.String()}).Debug("malformed frame")
		if s.acked {
			s.ack(EncodeAck(s.lastAck))
		}
	}
}

func (s *Session) handleData(ev BurstData) {
	if s.state == StateRequesting {
		s.state = StateCollecting
	}
	log := s.log.WithField("ordinal", ev.Ordinal)
	if s.acked && ev.Ordinal <= s.lastAck {
		log.Debug("duplicate burst frame")
		s.ack(EncodeAck(ev.Ordinal))
		return
	}
	s.frames[ev.Ordinal] = append([]uint8(nil), ev.Samples...)
	s.received++
	if ev.Ordinal == firstDataSerial && !ev.Timestamp.IsZero() {
		s.start = ev.Timestamp
	}
	s.lastAck = ev.Ordinal
	s.acked = true
	log.WithField("samples", len(ev.Samples)).Debug("burst frame accepted")
	s.ack(EncodeAck(ev.Ordinal))
}

func (s *Session) handleEnd(ev BurstEnd) {
	s.state = StateCompleting
	h := History{
		Session:  s.id,
		Start:    s.start,
		Declared: ev.DeclaredCount,
		Received: s.received,
	}
	if ev.DeclaredCount != s.received {
		h.Warning = fmt.Errorf("%w: declared %d, received %d", ErrBurstCountMismatch, ev.DeclaredCount, s.received)
		s.log.WithError(h.Warning).Warn("burst closed with unexpected frame count")
	}
	s.ack(EncodeAck(ev.DeviceSerial, AckStatusOK))

	ordinals := make([]int, 0, len(s.frames))
	for o := range s.frames {
		ordinals = append(ordinals, int(o))
	}
	sort.Ints(ordinals)
	for _, o := range ordinals {
		for _, bpm := range s.frames[uint8(o)] {
			h.Samples = append(h.Samples, HistorySample{Index: len(h.Samples), BPM: bpm})
		}
	}
	s.frames = nil
	s.history = h
	s.state = StateDone
	s.log.WithFields(logrus.Fields{"samples": len(h.Samples), "frames": s.received}).Info("history retrieved")
}

func (s *Session) ack(frame []byte) {
	if err := s.write(frame); err != nil {
		s.log.WithError(err).Warnf("acknowledgment % x not sent", frame)
		return
	}
	s.acks++
}

// Disconnect aborts the session because the link dropped.
func (s *Session) Disconnect() { s.abort(ErrDisconnected) }

// Expire aborts the session because the band went silent mid-burst.
func (s *Session) Expire() { s.abort(ErrStallTimeout) }

// Abandon aborts the session on the caller's request. cause, if not nil, is
// wrapped alongside ErrAbandoned.
func (s *Session) Abandon(cause error) {
	if cause == nil || cause == ErrAbandoned {
		s.abort(ErrAbandoned)
		return
	}
	s.abort(fmt.Errorf("%w: %w", ErrAbandoned, cause))
}

func (s *Session) abort(kind error) {
	if s.state == StateIdle || s.state.Terminal() {
		return
	}
	s.err = &RetrievalError{
		Kind:    kind,
		Session: s.id,
		State:   s.state,
		Frames:  s.received,
	}
	s.frames = nil
	s.state = StateAborted
	s.log.WithError(s.err).Error("retrieval aborted")
}

// Result returns the retrieved history once the session is Done, or the
// reason it was aborted. No partial history is ever returned.
func (s *Session) Result() (History, error) {
	switch s.state {
	case StateDone:
		return s.history, nil
	case StateAborted:
		return History{}, s.err
	}
	return History{}, fmt.Errorf("hrband: session not finished (%s)", s.state)
}
