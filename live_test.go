package hrband

import "testing"

func TestLiveHeartRate(t *testing.T) {
	// Flags byte followed by an 8-bit heart rate value.
	if bpm, ok := LiveHeartRate([]byte{0x06, 71}); !ok || bpm != 71 {
		t.Errorf("expected 71 but got %d (ok=%t)", bpm, ok)
	}
	// No checksum or command type check on this path.
	if bpm, ok := LiveHeartRate([]byte{0xFF, 200, 0x00, 0x01}); !ok || bpm != 200 {
		t.Errorf("expected 200 but got %d (ok=%t)", bpm, ok)
	}
	if _, ok := LiveHeartRate([]byte{0x06}); ok {
		t.Errorf("expected short buffer to be rejected")
	}
}

func TestBatteryLevel(t *testing.T) {
	if pct, ok := BatteryLevel([]byte{87}); !ok || pct != 87 {
		t.Errorf("expected 87 but got %d (ok=%t)", pct, ok)
	}
	if _, ok := BatteryLevel(nil); ok {
		t.Errorf("expected empty buffer to be rejected")
	}
}
