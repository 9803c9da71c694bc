package hrband

import (
	"errors"
	"sync"
)

var (
	errFakeWrite     = errors.New("fake write failure")
	errFakeSubscribe = errors.New("fake subscribe failure")
)

type written struct {
	ch    ChannelID
	frame []byte
}

// fakeTransport records writes and lets tests inject notifications and
// disconnects.
type fakeTransport struct {
	mu            sync.Mutex
	writes        []written
	failWrites    bool
	failFirst     int
	failSubscribe bool
	subscribers   map[ChannelID]func([]byte)
	disconnects   []func()
	unsubscribed  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subscribers: make(map[ChannelID]func([]byte))}
}

func (f *fakeTransport) Write(ch ChannelID, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errFakeWrite
	}
	if f.failFirst > 0 {
		f.failFirst--
		return errFakeWrite
	}
	f.writes = append(f.writes, written{ch: ch, frame: append([]byte(nil), p...)})
	return nil
}

func (f *fakeTransport) Subscribe(ch ChannelID, fn func([]byte)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubscribe {
		return nil, errFakeSubscribe
	}
	f.subscribers[ch] = fn
	return fakeSubscription{f}, nil
}

func (f *fakeTransport) OnDisconnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, fn)
}

func (f *fakeTransport) notify(ch ChannelID, frame []byte) {
	f.mu.Lock()
	fn := f.subscribers[ch]
	f.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

func (f *fakeTransport) disconnect() {
	f.mu.Lock()
	fns := append([]func(){}, f.disconnects...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeTransport) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	for i, w := range f.writes {
		out[i] = w.frame
	}
	return out
}

func (f *fakeTransport) acks() [][]byte {
	var out [][]byte
	for _, frame := range f.frames() {
		if frame[0] == CmdAcknowledge {
			out = append(out, frame)
		}
	}
	return out
}

type fakeSubscription struct{ f *fakeTransport }

func (s fakeSubscription) Unsubscribe() error {
	s.f.mu.Lock()
	s.f.unsubscribed = true
	s.f.mu.Unlock()
	return nil
}

// frame builds an inbound frame with a correct checksum.
func frame(header, packetSerial byte, payload ...byte) []byte {
	return Encode(header, packetSerial, payload...)
}

func burstHeader(deviceSerial uint8) byte {
	return deviceSerial<<SerialShift | byte(CommandBurst)
}

func dataFrame(deviceSerial, ordinal uint8, samples ...byte) []byte {
	if ordinal == firstDataSerial {
		// Timestamp 2020-01-01T00:00:00Z.
		payload := append([]byte{0x5E, 0x0B, 0xE1, 0x00}, samples...)
		return frame(burstHeader(deviceSerial), ordinal, payload...)
	}
	return frame(burstHeader(deviceSerial), ordinal, samples...)
}

func endFrame(deviceSerial, declared uint8) []byte {
	return frame(burstHeader(deviceSerial), burstEndSerial, declared)
}
