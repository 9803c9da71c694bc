//go:build !linux || baremetal

package blelink

import (
	"strings"

	"tinygo.org/x/bluetooth"
)

// watchDisconnect installs the adapter's connect handler. The adapter keeps a
// single handler, so only one Link per adapter is watched.
func (l *Link) watchDisconnect() error {
	l.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected || !strings.EqualFold(device.Address.String(), l.cfg.Address) {
			return
		}
		l.lost()
	})
	return nil
}
