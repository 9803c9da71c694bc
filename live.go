package hrband

// LiveHeartRate extracts the heart rate from a Heart Rate Measurement
// notification (characteristic 0x2a37). The band always sends the 8-bit
// format, so the value is read from byte 1 without inspecting the flags or
// any checksum; this path is intentionally separate from Decode.
func LiveHeartRate(buf []byte) (bpm uint8, ok bool) {
	if len(buf) < 2 {
		return 0, false
	}
	return buf[1], true
}

// BatteryLevel extracts the battery percentage from a Battery Level
// notification (characteristic 0x2a19).
func BatteryLevel(buf []byte) (percent uint8, ok bool) {
	if len(buf) < 1 {
		return 0, false
	}
	return buf[0], true
}
