package hrband

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func openClient(t *testing.T, opts ...Option) (*Client, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts = append([]Option{WithLogger(logrus.NewEntry(logger)), WithClock(func() time.Time { return testNow })}, opts...)
	c := NewClient(ft, opts...)
	require.NoError(t, c.Open())
	t.Cleanup(func() { c.Close() })
	return c, ft
}

type retrievalResult struct {
	history History
	err     error
}

func startAsync(c *Client, ctx context.Context) <-chan retrievalResult {
	out := make(chan retrievalResult, 1)
	go func() {
		h, err := c.StartRetrieval(ctx)
		out <- retrievalResult{h, err}
	}()
	return out
}

func waitState(t *testing.T, c *Client, want SessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitFor, time.Millisecond, "state never reached %s (now %s)", want, c.State())
}

func waitResult(t *testing.T, ch <-chan retrievalResult) retrievalResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("retrieval did not finish")
		return retrievalResult{}
	}
}

func TestClientRetrieval(t *testing.T) {
	c, ft := openClient(t)

	done := startAsync(c, context.Background())
	waitState(t, c, StateRequesting)

	ft.notify(ChannelNotify, dataFrame(1, 1, 60, 61))
	ft.notify(ChannelNotify, dataFrame(1, 2, 62))
	ft.notify(ChannelNotify, endFrame(1, 2))

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, []uint8{60, 61, 62}, r.history.BPMs())
	assert.Len(t, ft.acks(), 3)
	assert.Equal(t, StateDone, c.State())

	for _, w := range ft.writes {
		assert.Equal(t, ChannelWrite, w.ch)
	}
}

func TestClientSecondStartRejected(t *testing.T) {
	c, ft := openClient(t)

	first := startAsync(c, context.Background())
	waitState(t, c, StateRequesting)
	ft.notify(ChannelNotify, dataFrame(0, 1, 60))
	waitState(t, c, StateCollecting)
	writes := len(ft.frames())

	_, err := c.StartRetrieval(context.Background())
	require.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, StateCollecting, c.State())
	assert.Len(t, ft.frames(), writes, "rejected start must not write a request")

	ft.notify(ChannelNotify, endFrame(0, 1))
	r := waitResult(t, first)
	require.NoError(t, r.err)
	assert.Equal(t, []uint8{60}, r.history.BPMs())
}

func TestClientDisconnectWhileCollecting(t *testing.T) {
	c, ft := openClient(t)

	done := startAsync(c, context.Background())
	waitState(t, c, StateRequesting)
	ft.notify(ChannelNotify, dataFrame(0, 1, 60, 61))
	waitState(t, c, StateCollecting)

	ft.disconnect()

	r := waitResult(t, done)
	require.ErrorIs(t, r.err, ErrDisconnected)
	assert.Empty(t, r.history.Samples)
	assert.Equal(t, StateAborted, c.State())

	_, err := c.StartRetrieval(context.Background())
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestClientStallTimeout(t *testing.T) {
	c, ft := openClient(t, WithStallTimeout(50*time.Millisecond))

	done := startAsync(c, context.Background())
	waitState(t, c, StateRequesting)
	ft.notify(ChannelNotify, dataFrame(0, 1, 60))

	r := waitResult(t, done)
	require.ErrorIs(t, r.err, ErrStallTimeout)
	assert.Empty(t, r.history.Samples)
}

func TestClientAbandon(t *testing.T) {
	c, ft := openClient(t)

	done := startAsync(c, context.Background())
	waitState(t, c, StateRequesting)
	ft.notify(ChannelNotify, dataFrame(0, 1, 60))
	waitState(t, c, StateCollecting)

	c.AbandonRetrieval()
	r := waitResult(t, done)
	require.ErrorIs(t, r.err, ErrAbandoned)

	// Frames after abandoning are not acknowledged.
	acks := len(ft.acks())
	ft.notify(ChannelNotify, dataFrame(0, 2, 61))
	ft.notify(ChannelNotify, frame(0x06, 0))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, ft.acks(), acks)
}

func TestClientContextCancel(t *testing.T) {
	c, _ := openClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := startAsync(c, ctx)
	waitState(t, c, StateRequesting)
	cancel()

	r := waitResult(t, done)
	assert.ErrorIs(t, r.err, ErrAbandoned)
	assert.ErrorIs(t, r.err, context.Canceled)

	// The client is usable again afterwards.
	_ = startAsync(c, context.Background())
	waitState(t, c, StateRequesting)
}

func TestClientStartWriteFailure(t *testing.T) {
	c, ft := openClient(t)
	ft.failFirst = 1

	_, err := c.StartRetrieval(context.Background())
	require.ErrorIs(t, err, ErrTransportWrite)
	assert.Equal(t, StateIdle, c.State())
}

func TestClientHandshakeAcknowledgeOnly(t *testing.T) {
	_, ft := openClient(t)

	ft.notify(ChannelNotify, frame(0x31, 0))
	ft.notify(ChannelNotify, frame(0x52, 0))

	require.Eventually(t, func() bool { return len(ft.frames()) == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, [][]byte{EncodeAck(3), EncodeAck(5)}, ft.frames())
}

func TestClientHandshakeResend(t *testing.T) {
	profile := Profile{WeightKg: 62.5, AgeYears: 41, HeightCm: 168, StepLengthCm: 70, Gender: GenderFemale}
	_, ft := openClient(t, WithPolicy(PolicyResend), WithProfile(profile))

	ft.notify(ChannelNotify, frame(0x31, 0))
	ft.notify(ChannelNotify, frame(0x52, 0))

	require.Eventually(t, func() bool { return len(ft.frames()) == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, [][]byte{EncodeProfile(3, profile), EncodeClock(5, testNow)}, ft.frames())
}

func TestClientHandshakeDuringRetrieval(t *testing.T) {
	c, ft := openClient(t)

	done := startAsync(c, context.Background())
	waitState(t, c, StateRequesting)
	ft.notify(ChannelNotify, frame(0x21, 0))
	ft.notify(ChannelNotify, dataFrame(2, 1, 99))
	ft.notify(ChannelNotify, endFrame(2, 1))

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, []uint8{99}, r.history.BPMs())
	assert.Equal(t, [][]byte{EncodeAck(2), EncodeAck(1), EncodeAck(2, AckStatusOK)}, ft.acks())
}

func TestClientLiveSample(t *testing.T) {
	c, ft := openClient(t)
	got := make(chan uint8, 1)
	c.OnLiveSample(func(bpm uint8) { got <- bpm })

	ft.notify(ChannelNotify, frame(0x03, 77))

	select {
	case bpm := <-got:
		assert.Equal(t, uint8(77), bpm)
	case <-time.After(waitFor):
		t.Fatal("live sample not delivered")
	}
}

func TestClientPushes(t *testing.T) {
	c, ft := openClient(t)

	require.NoError(t, c.PushProfile(DefaultProfile))
	require.NoError(t, c.PushClock(testNow))
	assert.Equal(t, [][]byte{EncodeProfile(0, DefaultProfile), EncodeClock(0, testNow)}, ft.frames())

	ft.failWrites = true
	assert.ErrorIs(t, c.PushClock(testNow), ErrTransportWrite)
}

func TestClientClose(t *testing.T) {
	c, ft := openClient(t)

	done := startAsync(c, context.Background())
	waitState(t, c, StateRequesting)
	require.NoError(t, c.Close())

	r := waitResult(t, done)
	assert.ErrorIs(t, r.err, ErrClosed)
	assert.True(t, ft.unsubscribed)

	_, err := c.StartRetrieval(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClientStaleAbandonIgnored(t *testing.T) {
	c, ft := openClient(t)

	done := startAsync(c, context.Background())
	waitState(t, c, StateRequesting)

	// An abandon aimed at an earlier caller's session leaves this one alone.
	c.abandon(make(chan result, 1), context.Canceled)
	assert.Equal(t, StateRequesting, c.State())

	ft.notify(ChannelNotify, dataFrame(0, 1, 60))
	ft.notify(ChannelNotify, endFrame(0, 1))
	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, []uint8{60}, r.history.BPMs())
}

func TestClientNotOpen(t *testing.T) {
	c := NewClient(newFakeTransport())

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		c.AbandonRetrieval()
		_, err := c.StartRetrieval(context.Background())
		assert.ErrorIs(t, err, ErrNotOpen)
		assert.NoError(t, c.Close())
	}()
	select {
	case <-finished:
	case <-time.After(waitFor):
		t.Fatal("unopened client blocked")
	}
}

func TestClientOpenSubscribeFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.failSubscribe = true
	c := NewClient(ft)

	require.ErrorIs(t, c.Open(), errFakeSubscribe)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		c.AbandonRetrieval()
		_, err := c.StartRetrieval(context.Background())
		assert.ErrorIs(t, err, ErrNotOpen)
	}()
	select {
	case <-finished:
	case <-time.After(waitFor):
		t.Fatal("client blocked after failed Open")
	}

	ft.failSubscribe = false
	require.NoError(t, c.Open())
	defer c.Close()
	_ = startAsync(c, context.Background())
	waitState(t, c, StateRequesting)
}
