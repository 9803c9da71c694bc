package hrband

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ChannelID names a GATT service or characteristic by its 16-bit short UUID.
// Short UUIDs expand into the Bluetooth base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb.
type ChannelID uint16

// Channels used by the band. Exact identifiers may differ per deployment and
// can be overridden through configuration.
const (
	ServiceBand         ChannelID = 0xfc00
	ChannelNotify       ChannelID = 0xfc20
	ChannelWrite        ChannelID = 0xfc21
	ServiceHeartRate    ChannelID = 0x180d
	ChannelHeartRate    ChannelID = 0x2a37
	ServiceBattery      ChannelID = 0x180f
	ChannelBatteryLevel ChannelID = 0x2a19
)

const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

var errInvalidChannelID = errors.New("hrband: invalid channel id")

// String returns the full 128-bit UUID form.
func (c ChannelID) String() string {
	return fmt.Sprintf("0000%04x%s", uint16(c), baseUUIDSuffix)
}

// ParseChannelID accepts "fc21", "0xfc21" or the full base UUID form
// "0000fc21-0000-1000-8000-00805f9b34fb", in any case.
func ParseChannelID(s string) (ChannelID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case len(s) == 36:
		if !strings.HasPrefix(s, "0000") || !strings.HasSuffix(s, baseUUIDSuffix) {
			return 0, errInvalidChannelID
		}
		s = s[4:8]
	case strings.HasPrefix(s, "0x"):
		s = s[2:]
	}
	if len(s) == 0 || len(s) > 4 {
		return 0, errInvalidChannelID
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, errInvalidChannelID
	}
	return ChannelID(v), nil
}

// Transport is the link to one connected band.
type Transport interface {
	// Write sends p on the given characteristic.
	Write(ch ChannelID, p []byte) error

	// Subscribe enables notifications on ch. fn is called once per frame,
	// in order, from a single goroutine.
	Subscribe(ch ChannelID, fn func(buf []byte)) (Subscription, error)

	// OnDisconnect registers fn to be called when the link drops.
	OnDisconnect(fn func())
}

// Subscription is an active notification subscription.
type Subscription interface {
	Unsubscribe() error
}
