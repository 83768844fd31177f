package sound

import "testing"

func TestNR52PowerGatesOtherWrites(t *testing.T) {
	r := New()
	r.Write(0xFF26, 0x00) // power off
	r.Write(0xFF11, 0x55) // should be ignored while powered off
	if got := r.Read(0xFF11); got != 0x3F {
		t.Fatalf("NR11 write while powered off got %02x want 3F (unset | masked)", got)
	}

	r.Write(0xFF26, 0x80) // power on
	r.Write(0xFF11, 0x55)
	if got := r.Read(0xFF11); got != 0x7F {
		t.Fatalf("NR11 got %02x want 7F (0x55|0x3F)", got)
	}
}

func TestNR52ChannelBitsAlwaysReadZero(t *testing.T) {
	r := New()
	r.Write(0xFF26, 0x80)
	if got := r.Read(0xFF26); got != 0xF0 {
		t.Fatalf("NR52 got %02x want F0 (power on, no channel active)", got)
	}
}

func TestWaveRAMWritableRegardlessOfPower(t *testing.T) {
	r := New()
	r.Write(0xFF26, 0x00)
	r.Write(0xFF30, 0xAB)
	if got := r.Read(0xFF30); got != 0xAB {
		t.Fatalf("wave RAM got %02x want AB even while powered off", got)
	}
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	r := New()
	r.Write(0xFF26, 0x80)
	r.Write(0xFF24, 0x77)
	r.Write(0xFF12, 0xF3)
	r.Write(0xFF30, 0x5A)

	data := r.SaveState()
	r2 := New()
	r2.LoadState(data)

	if got := r2.Read(0xFF24); got != r.Read(0xFF24) {
		t.Fatalf("NR50 mismatch after load: got %02x want %02x", got, r.Read(0xFF24))
	}
	if got := r2.Read(0xFF12); got != r.Read(0xFF12) {
		t.Fatalf("NR12 mismatch after load: got %02x want %02x", got, r.Read(0xFF12))
	}
	if got := r2.Read(0xFF30); got != 0x5A {
		t.Fatalf("wave RAM mismatch after load: got %02x want 5A", got)
	}
}
