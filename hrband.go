// Package hrband implements the notification protocol spoken by a family of
// wrist-worn heart rate bands.
//
// It decodes the frames the band sends on its notification characteristic,
// drives the historical data exchange (request, multi-frame burst,
// acknowledgments, completion) and answers the band's profile and clock
// requests. The Bluetooth link itself is abstracted behind Transport; see the
// blelink package for an implementation on top of tinygo.org/x/bluetooth.
package hrband // import "tinygo.org/x/hrband"
