package hrband

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Client speaks the band protocol with one connected device. It owns a
// single dispatch goroutine which decodes every notification in arrival
// order and drives at most one retrieval session at a time.
type Client struct {
	transport Transport
	opts      options
	log       *logrus.Entry
	handshake *Handshake

	frames    chan []byte
	starts    chan startRequest
	abandons  chan abandonRequest
	quit      chan struct{}
	done      chan struct{}
	lost      chan struct{}
	lostOnce  sync.Once
	closeOnce sync.Once

	sub    Subscription
	opened atomic.Bool
	state  atomic.Int32

	mu     sync.Mutex
	onLive func(bpm uint8)
}

type startRequest struct {
	reply chan result
}

type result struct {
	history History
	err     error
}

// abandonRequest aborts the active session. A non-nil reply restricts it to
// the session started with that reply channel.
type abandonRequest struct {
	reply chan result
	cause error
}

type retrieval struct {
	session *Session
	reply   chan result
}

// NewClient returns a client for t. Call Open before use.
func NewClient(t Transport, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		transport: t,
		opts:      o,
		log:       o.log,
		handshake: NewHandshake(t, o.write, opts...),
		frames:    make(chan []byte, o.queueSize),
		starts:    make(chan startRequest),
		abandons:  make(chan abandonRequest),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		lost:      make(chan struct{}),
	}
}

// Open subscribes to the notify channel and starts dispatching frames. Until
// Open succeeds, StartRetrieval fails with ErrNotOpen.
func (c *Client) Open() error {
	if c.opened.Load() {
		return nil
	}
	c.transport.OnDisconnect(func() {
		c.lostOnce.Do(func() { close(c.lost) })
	})
	sub, err := c.transport.Subscribe(c.opts.notify, c.enqueue)
	if err != nil {
		return err
	}
	c.sub = sub
	c.opened.Store(true)
	go c.run()
	return nil
}

// Close stops dispatching. An active retrieval ends with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.sub != nil {
			err = c.sub.Unsubscribe()
		}
		close(c.quit)
	})
	if c.sub != nil {
		<-c.done
	}
	return err
}

// OnLiveSample registers a handler for in-band live heart rate frames. It is
// called from the dispatch goroutine and must not block.
func (c *Client) OnLiveSample(fn func(bpm uint8)) {
	c.mu.Lock()
	c.onLive = fn
	c.mu.Unlock()
}

// State returns the state of the current or most recent retrieval.
func (c *Client) State() SessionState {
	return SessionState(c.state.Load())
}

// StartRetrieval requests the band's stored history and blocks until the
// burst completes or the session is aborted. Cancelling ctx abandons the
// session. Starting while another retrieval is in progress fails with
// ErrSessionActive and leaves the running one untouched.
func (c *Client) StartRetrieval(ctx context.Context) (History, error) {
	if !c.opened.Load() {
		return History{}, ErrNotOpen
	}
	req := startRequest{reply: make(chan result, 1)}
	select {
	case c.starts <- req:
	case <-c.done:
		return History{}, c.deadErr()
	case <-ctx.Done():
		return History{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.history, r.err
	case <-ctx.Done():
		c.abandon(req.reply, ctx.Err())
		r := <-req.reply
		return r.history, r.err
	}
}

// AbandonRetrieval aborts the active retrieval, if any. No further
// acknowledgments are sent for it.
func (c *Client) AbandonRetrieval() {
	c.abandon(nil, ErrAbandoned)
}

func (c *Client) abandon(reply chan result, cause error) {
	if !c.opened.Load() {
		return
	}
	select {
	case c.abandons <- abandonRequest{reply: reply, cause: cause}:
	case <-c.done:
	}
}

// PushProfile sends the user profile to the band.
func (c *Client) PushProfile(p Profile) error {
	return c.handshake.PushProfile(0, p)
}

// PushClock sends t as the band's wall clock.
func (c *Client) PushClock(t time.Time) error {
	return c.handshake.PushClock(0, t)
}

func (c *Client) deadErr() error {
	select {
	case <-c.lost:
		return ErrDisconnected
	default:
		return ErrClosed
	}
}

// enqueue runs on the transport's notification goroutine and must not block.
func (c *Client) enqueue(buf []byte) {
	frame := append([]byte(nil), buf...)
	select {
	case c.frames <- frame:
	default:
		c.log.WithField("len", len(frame)).Error("notification queue full, frame dropped")
	}
}

func (c *Client) run() {
	defer close(c.done)

	var active *retrieval
	stall := time.NewTimer(c.opts.stallTimeout)
	stopTimer(stall)
	defer stall.Stop()

	finish := func() {
		h, err := active.session.Result()
		c.state.Store(int32(active.session.State()))
		active.reply <- result{history: h, err: err}
		active = nil
		stopTimer(stall)
	}

	for {
		select {
		case <-c.quit:
			if active != nil {
				active.session.abort(ErrClosed)
				finish()
			}
			return

		case <-c.lost:
			c.log.Warn("device disconnected")
			if active != nil {
				active.session.Disconnect()
				finish()
			}
			return

		case req := <-c.starts:
			if active != nil {
				req.reply <- result{err: ErrSessionActive}
				continue
			}
			s := NewSession(c.write, WithLogger(c.log), WithRequestCommand(c.opts.request))
			if err := s.Start(); err != nil {
				c.state.Store(int32(StateIdle))
				req.reply <- result{err: err}
				continue
			}
			active = &retrieval{session: s, reply: req.reply}
			c.state.Store(int32(s.State()))
			resetTimer(stall, c.opts.stallTimeout)

		case req := <-c.abandons:
			if active == nil || (req.reply != nil && req.reply != active.reply) {
				continue
			}
			active.session.Abandon(req.cause)
			finish()

		case buf := <-c.frames:
			ev := Interpret(DecodeAt(buf, c.opts.now()))
			c.dispatch(ev, active)
			if active == nil {
				continue
			}
			if active.session.State().Terminal() {
				finish()
				continue
			}
			c.state.Store(int32(active.session.State()))
			resetTimer(stall, c.opts.stallTimeout)

		case <-stall.C:
			if active == nil {
				continue
			}
			c.log.WithField("timeout", c.opts.stallTimeout).Warn("no frame from band")
			active.session.Expire()
			finish()
		}
	}
}

func (c *Client) dispatch(ev Event, active *retrieval) {
	switch ev := ev.(type) {
	case ProfileRequested, ClockRequested:
		c.handshake.Respond(ev)
	case LiveSample:
		c.mu.Lock()
		fn := c.onLive
		c.mu.Unlock()
		if fn != nil {
			fn(ev.BPM)
		}
	case Unsolicited:
		c.log.WithField("command", ev.Packet.Command).Infof("unsolicited frame % x", ev.Packet.Raw)
	case BurstData, BurstEnd, Malformed:
		if active == nil {
			c.log.Debugf("%T outside a retrieval ignored", ev)
			return
		}
		active.session.Handle(ev)
	}
}

func (c *Client) write(frame []byte) error {
	return c.transport.Write(c.opts.write, frame)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
