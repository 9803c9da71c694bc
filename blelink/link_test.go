package blelink

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"tinygo.org/x/hrband"
)

func testLink() (*Link, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return &Link{
		cfg:   Config{Address: "AA:BB:CC:DD:EE:FF"},
		log:   logrus.NewEntry(logger),
		chars: make(map[hrband.ChannelID]bluetooth.DeviceCharacteristic),
	}, hook
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.setDefaults()
	assert.Equal(t, "hci0", cfg.HCI)
	assert.Equal(t, hrband.ServiceBand, cfg.Service)
	assert.Equal(t, hrband.ChannelNotify, cfg.Notify)
	assert.Equal(t, hrband.ChannelWrite, cfg.Write)
	assert.Equal(t, DefaultScanTimeout, cfg.ScanTimeout)

	cfg = Config{HCI: "hci1", Write: 0xfc31}
	cfg.setDefaults()
	assert.Equal(t, "hci1", cfg.HCI)
	assert.Equal(t, hrband.ChannelID(0xfc31), cfg.Write)
}

func TestLostRunsHandlersOnce(t *testing.T) {
	l, hook := testLink()

	calls := 0
	l.OnDisconnect(func() { calls++ })
	l.OnDisconnect(func() { calls++ })

	l.lost()
	l.lost()
	assert.Equal(t, 2, calls)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Len(t, hook.AllEntries(), 1)

	// Late registration fires immediately.
	late := false
	l.OnDisconnect(func() { late = true })
	assert.True(t, late)
}

func TestWriteAfterDisconnect(t *testing.T) {
	l, _ := testLink()
	l.lost()
	assert.ErrorIs(t, l.Write(hrband.ChannelWrite, []byte{0xE0, 0, 0xE0}), errDisconnected)
}

func TestUnknownChannel(t *testing.T) {
	l, _ := testLink()

	assert.False(t, l.Has(hrband.ChannelHeartRate))
	assert.ErrorIs(t, l.Write(hrband.ChannelWrite, []byte{1}), errNoChannel)
	_, err := l.Subscribe(hrband.ChannelHeartRate, func([]byte) {})
	assert.ErrorIs(t, err, errNoChannel)
}

func TestDialRequiresAddress(t *testing.T) {
	_, err := Dial(context.Background(), nil, Config{}, nil)
	assert.ErrorIs(t, err, errMissingAddress)
}
