package hrband

import (
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultStallTimeout bounds the silence tolerated while a retrieval waits for
// burst frames.
const DefaultStallTimeout = 30 * time.Second

// DefaultQueueSize is the capacity of the inbound frame queue.
const DefaultQueueSize = 64

type options struct {
	log          *logrus.Entry
	policy       Policy
	profile      Profile
	now          func() time.Time
	stallTimeout time.Duration
	request      uint8
	queueSize    int
	notify       ChannelID
	write        ChannelID
}

// Option configures a Client, Session or Handshake.
type Option func(*options)

func buildOptions(opts []Option) options {
	o := options{
		log:          logrus.NewEntry(logrus.StandardLogger()),
		policy:       PolicyAcknowledge,
		profile:      DefaultProfile,
		now:          time.Now,
		stallTimeout: DefaultStallTimeout,
		request:      CmdReadHistory,
		queueSize:    DefaultQueueSize,
		notify:       ChannelNotify,
		write:        ChannelWrite,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the log entry used for diagnostics.
func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithPolicy sets how profile and clock requests are answered.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithProfile sets the profile pushed by PolicyResend.
func WithProfile(p Profile) Option {
	return func(o *options) { o.profile = p }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithStallTimeout sets how long a retrieval may go without a frame before it
// is aborted. Zero or negative values keep the default.
func WithStallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stallTimeout = d
		}
	}
}

// WithRequestCommand overrides the command word of the history request.
func WithRequestCommand(cmd uint8) Option {
	return func(o *options) { o.request = cmd }
}

// WithQueueSize sets the capacity of the inbound frame queue.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithChannels overrides the notify and write characteristics.
func WithChannels(notify, write ChannelID) Option {
	return func(o *options) {
		o.notify = notify
		o.write = write
	}
}
