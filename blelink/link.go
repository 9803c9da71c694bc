// Package blelink implements hrband.Transport on top of tinygo.org/x/bluetooth.
//
// It scans for the band by address, connects, discovers the band's command
// service plus the standard heart rate and battery services, and maps
// hrband.ChannelID values onto the discovered characteristics.
package blelink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"tinygo.org/x/hrband"
)

// DefaultScanTimeout bounds how long Dial scans for the band.
const DefaultScanTimeout = 30 * time.Second

var (
	errNotFound       = errors.New("blelink: device not found")
	errNoChannel      = errors.New("blelink: channel not discovered")
	errDisconnected   = errors.New("blelink: link is disconnected")
	errMissingAddress = errors.New("blelink: no device address configured")
)

// Config selects the band and the GATT layout used to talk to it.
type Config struct {
	// Address is the band's MAC address (Linux, Windows) or UUID (macOS) as
	// printed by a scan.
	Address string

	// HCI is the BlueZ adapter name, used on Linux to watch the connection.
	HCI string

	Service hrband.ChannelID
	Notify  hrband.ChannelID
	Write   hrband.ChannelID

	ScanTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.HCI == "" {
		c.HCI = "hci0"
	}
	if c.Service == 0 {
		c.Service = hrband.ServiceBand
	}
	if c.Notify == 0 {
		c.Notify = hrband.ChannelNotify
	}
	if c.Write == 0 {
		c.Write = hrband.ChannelWrite
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
}

// Link is a connection to one band.
type Link struct {
	adapter *bluetooth.Adapter
	device  bluetooth.Device
	cfg     Config
	log     *logrus.Entry

	chars map[hrband.ChannelID]bluetooth.DeviceCharacteristic

	mu           sync.Mutex
	handlers     []func()
	disconnected bool
	stopWatch    func()
}

// Dial scans for the configured band, connects to it and discovers its
// characteristics. The adapter must already be enabled.
func Dial(ctx context.Context, adapter *bluetooth.Adapter, cfg Config, log *logrus.Entry) (*Link, error) {
	cfg.setDefaults()
	if cfg.Address == "" {
		return nil, errMissingAddress
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	l := &Link{
		adapter: adapter,
		cfg:     cfg,
		log:     log.WithField("device", cfg.Address),
		chars:   make(map[hrband.ChannelID]bluetooth.DeviceCharacteristic),
	}

	result, err := l.scan(ctx)
	if err != nil {
		return nil, err
	}

	if err := l.watchDisconnect(); err != nil {
		l.log.WithError(err).Warn("connection watch unavailable")
	}

	l.log.WithField("rssi", result.RSSI).Info("connecting")
	l.device, err = adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		l.closeWatch()
		return nil, fmt.Errorf("blelink: connect %s: %w", cfg.Address, err)
	}

	if err := l.discover(); err != nil {
		if derr := l.device.Disconnect(); derr != nil {
			l.log.WithError(derr).Debug("disconnect after failed discovery")
		}
		l.closeWatch()
		return nil, err
	}
	l.log.Info("connected")
	return l, nil
}

func (l *Link) scan(ctx context.Context) (bluetooth.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ScanTimeout)
	defer cancel()

	found := make(chan bluetooth.ScanResult, 1)
	failed := make(chan error, 1)
	go func() {
		err := l.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !strings.EqualFold(result.Address.String(), l.cfg.Address) {
				return
			}
			l.log.WithField("name", result.LocalName()).Debug("found device")
			adapter.StopScan()
			select {
			case found <- result:
			default:
			}
		})
		if err != nil {
			failed <- err
		}
	}()

	l.log.Info("scanning")
	select {
	case result := <-found:
		return result, nil
	case err := <-failed:
		return bluetooth.ScanResult{}, fmt.Errorf("blelink: scan: %w", err)
	case <-ctx.Done():
		l.adapter.StopScan()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return bluetooth.ScanResult{}, fmt.Errorf("%w: %s", errNotFound, l.cfg.Address)
		}
		return bluetooth.ScanResult{}, ctx.Err()
	}
}

// discover looks up the band service, which is required, and the standard
// heart rate and battery services, which are optional.
func (l *Link) discover() error {
	layout := []struct {
		service  hrband.ChannelID
		chars    []hrband.ChannelID
		required bool
	}{
		{l.cfg.Service, []hrband.ChannelID{l.cfg.Notify, l.cfg.Write}, true},
		{hrband.ServiceHeartRate, []hrband.ChannelID{hrband.ChannelHeartRate}, false},
		{hrband.ServiceBattery, []hrband.ChannelID{hrband.ChannelBatteryLevel}, false},
	}
	for _, entry := range layout {
		err := l.discoverService(entry.service, entry.chars)
		if err == nil {
			continue
		}
		if entry.required {
			return fmt.Errorf("blelink: discover service %s: %w", entry.service, err)
		}
		l.log.WithError(err).WithField("service", entry.service.String()).Debug("optional service not available")
	}
	return nil
}

func (l *Link) discoverService(service hrband.ChannelID, chars []hrband.ChannelID) error {
	services, err := l.device.DiscoverServices([]bluetooth.UUID{uuidOf(service)})
	if err != nil {
		return err
	}
	if len(services) == 0 {
		return errNotFound
	}
	srv := services[0]

	uuids := make([]bluetooth.UUID, len(chars))
	for i, ch := range chars {
		uuids[i] = uuidOf(ch)
	}
	found, err := srv.DiscoverCharacteristics(uuids)
	if err != nil {
		return err
	}
	for i, char := range found {
		l.chars[chars[i]] = char
	}
	return nil
}

func uuidOf(ch hrband.ChannelID) bluetooth.UUID {
	return bluetooth.New16BitUUID(uint16(ch))
}

// Has reports whether ch was discovered on the band.
func (l *Link) Has(ch hrband.ChannelID) bool {
	_, ok := l.chars[ch]
	return ok
}

// Address returns the address of the connected band.
func (l *Link) Address() string { return l.cfg.Address }

// Write implements hrband.Transport.
func (l *Link) Write(ch hrband.ChannelID, p []byte) error {
	if l.isDisconnected() {
		return errDisconnected
	}
	char, ok := l.chars[ch]
	if !ok {
		return fmt.Errorf("%w: %s", errNoChannel, ch)
	}
	_, err := char.WriteWithoutResponse(p)
	return err
}

// Subscribe implements hrband.Transport.
func (l *Link) Subscribe(ch hrband.ChannelID, fn func(buf []byte)) (hrband.Subscription, error) {
	char, ok := l.chars[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNoChannel, ch)
	}
	if err := char.EnableNotifications(fn); err != nil {
		return nil, fmt.Errorf("blelink: enable notifications on %s: %w", ch, err)
	}
	return &subscription{char: char}, nil
}

type subscription struct {
	char bluetooth.DeviceCharacteristic
	once sync.Once
}

// Unsubscribe disables notifications on the characteristic.
func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() { err = s.char.EnableNotifications(nil) })
	return err
}

// OnDisconnect implements hrband.Transport. Handlers registered after the
// link dropped are called immediately.
func (l *Link) OnDisconnect(fn func()) {
	l.mu.Lock()
	if l.disconnected {
		l.mu.Unlock()
		fn()
		return
	}
	l.handlers = append(l.handlers, fn)
	l.mu.Unlock()
}

// lost marks the link as disconnected and runs the handlers once.
func (l *Link) lost() {
	l.mu.Lock()
	if l.disconnected {
		l.mu.Unlock()
		return
	}
	l.disconnected = true
	handlers := l.handlers
	l.handlers = nil
	l.mu.Unlock()

	l.log.Warn("disconnected")
	for _, fn := range handlers {
		fn()
	}
}

func (l *Link) isDisconnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnected
}

func (l *Link) closeWatch() {
	l.mu.Lock()
	stop := l.stopWatch
	l.stopWatch = nil
	l.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Close disconnects from the band.
func (l *Link) Close() error {
	l.closeWatch()
	if l.isDisconnected() {
		return nil
	}
	err := l.device.Disconnect()
	l.lost()
	return err
}
