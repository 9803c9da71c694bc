//go:build !baremetal

package blelink

import (
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezDeviceInterface = "org.bluez.Device1"
	propertiesInterface  = "org.freedesktop.DBus.Properties"
	propertiesChanged    = propertiesInterface + ".PropertiesChanged"
)

// devicePath returns the BlueZ object path of the device with the given MAC
// address on adapter hci.
func devicePath(hci, address string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + hci + "/dev_" + strings.ToUpper(strings.ReplaceAll(address, ":", "_")))
}

// watchDisconnect listens on the system bus for the device's Connected
// property turning false.
func (l *Link) watchDisconnect() error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return err
	}
	path := devicePath(l.cfg.HCI, l.cfg.Address)
	err = conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
	)
	if err != nil {
		conn.Close()
		return err
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case <-stop:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig.Path != path || sig.Name != propertiesChanged {
					continue
				}
				if connectedDropped(sig.Body) {
					l.lost()
					return
				}
			}
		}
	}()

	l.mu.Lock()
	l.stopWatch = func() {
		close(stop)
		conn.RemoveSignal(signals)
		conn.Close()
	}
	l.mu.Unlock()
	return nil
}

// connectedDropped reports whether a PropertiesChanged body sets
// org.bluez.Device1.Connected to false.
func connectedDropped(body []interface{}) bool {
	if len(body) < 2 {
		return false
	}
	if iface, ok := body[0].(string); !ok || iface != bluezDeviceInterface {
		return false
	}
	changed, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}
	v, ok := changed["Connected"]
	if !ok {
		return false
	}
	connected, ok := v.Value().(bool)
	return ok && !connected
}
