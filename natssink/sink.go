// Package natssink publishes band data to NATS as JSON.
//
// Retrieved histories go to <prefix>.history.<device> and live readings to
// <prefix>.live.<device>, where <device> is the band address with the colons
// removed.
package natssink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"tinygo.org/x/hrband"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "hrband"

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Sink publishes band data for one device.
type Sink struct {
	pub    Publisher
	prefix string
	device string
	log    *logrus.Entry
}

// New returns a sink publishing through pub. An empty prefix selects
// DefaultPrefix.
func New(pub Publisher, prefix, device string, log *logrus.Entry) *Sink {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sink{
		pub:    pub,
		prefix: prefix,
		device: device,
		log:    log.WithField("device", device),
	}
}

// Connect dials the NATS server at url and returns a sink on it together
// with the connection, which the caller closes.
func Connect(url, prefix, device string, log *logrus.Entry) (*Sink, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("hrband "+device))
	if err != nil {
		return nil, nil, fmt.Errorf("natssink: connect %s: %w", url, err)
	}
	return New(nc, prefix, device, log), nc, nil
}

// HistoryMessage is the payload published for a completed retrieval.
type HistoryMessage struct {
	Device    string     `json:"device"`
	Session   string     `json:"session,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	Declared  int        `json:"declared"`
	Received  int        `json:"received"`
	Samples   []int      `json:"samples"`
	Warning   string     `json:"warning,omitempty"`
	Retrieved time.Time  `json:"retrieved"`
}

// LiveMessage is the payload published for a live reading. Either field may
// be absent.
type LiveMessage struct {
	Device  string    `json:"device"`
	BPM     *uint8    `json:"bpm,omitempty"`
	Battery *uint8    `json:"battery,omitempty"`
	At      time.Time `json:"at"`
}

// Subject returns the subject for kind ("history" or "live").
func (s *Sink) Subject(kind string) string {
	return s.prefix + "." + kind + "." + strings.ReplaceAll(s.device, ":", "")
}

// PublishHistory publishes a completed retrieval.
func (s *Sink) PublishHistory(h hrband.History, at time.Time) error {
	msg := HistoryMessage{
		Device:    s.device,
		Declared:  h.Declared,
		Received:  h.Received,
		Samples:   make([]int, len(h.Samples)),
		Retrieved: at.UTC(),
	}
	for i, sample := range h.Samples {
		msg.Samples[i] = int(sample.BPM)
	}
	if h.Session != uuid.Nil {
		msg.Session = h.Session.String()
	}
	if !h.Start.IsZero() {
		start := h.Start.UTC()
		msg.Start = &start
	}
	if h.Warning != nil {
		msg.Warning = h.Warning.Error()
	}
	return s.publish("history", msg)
}

// PublishHeartRate publishes a live heart rate reading.
func (s *Sink) PublishHeartRate(bpm uint8, at time.Time) error {
	return s.publish("live", LiveMessage{Device: s.device, BPM: &bpm, At: at.UTC()})
}

// PublishBattery publishes a battery level reading.
func (s *Sink) PublishBattery(percent uint8, at time.Time) error {
	return s.publish("live", LiveMessage{Device: s.device, Battery: &percent, At: at.UTC()})
}

func (s *Sink) publish(kind string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	subject := s.Subject(kind)
	if err := s.pub.Publish(subject, data); err != nil {
		s.log.WithError(err).WithField("subject", subject).Warn("publish failed")
		return fmt.Errorf("natssink: publish %s: %w", subject, err)
	}
	s.log.WithField("subject", subject).Debug("published")
	return nil
}
