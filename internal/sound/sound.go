// Package sound holds the DMG audio register file without synthesizing any
// waveform. Games routinely poll NR52 (power/channel-status) and poke the
// length/envelope/frequency registers during init; this keeps those pokes
// observable (read back what was written, mask the bits real hardware
// fixes) without running a mixer, since audio output is out of scope here.
package sound

import "bytes"
import "encoding/gob"

// Registers models the FF10-FF3F register block. Only a handful of bits are
// not plain read/write passthrough: NR52's channel-on flags are forced low
// since no channel is ever actually running, and writes while the unit is
// powered off (NR52 bit7=0) are ignored, matching the real APU's behavior
// that games rely on during a power-cycle sequence.
type Registers struct {
	nr10, nr11, nr12, nr13, nr14 byte // CH1
	nr21, nr22, nr23, nr24       byte // CH2
	nr30, nr31, nr32, nr33, nr34 byte // CH3
	nr41, nr42, nr43, nr44       byte // CH4
	nr50, nr51, nr52             byte // control
	wave                         [16]byte
}

func New() *Registers {
	return &Registers{nr52: 0x80}
}

func (r *Registers) powered() bool { return r.nr52&0x80 != 0 }

func (r *Registers) Read(addr uint16) byte {
	switch addr {
	case 0xFF10:
		return r.nr10 | 0x80
	case 0xFF11:
		return r.nr11 | 0x3F
	case 0xFF12:
		return r.nr12
	case 0xFF13:
		return 0xFF
	case 0xFF14:
		return r.nr14 | 0xBF
	case 0xFF16:
		return r.nr21 | 0x3F
	case 0xFF17:
		return r.nr22
	case 0xFF18:
		return 0xFF
	case 0xFF19:
		return r.nr24 | 0xBF
	case 0xFF1A:
		return r.nr30 | 0x7F
	case 0xFF1B:
		return 0xFF
	case 0xFF1C:
		return r.nr32 | 0x9F
	case 0xFF1D:
		return 0xFF
	case 0xFF1E:
		return r.nr34 | 0xBF
	case 0xFF20:
		return 0xFF
	case 0xFF21:
		return r.nr42
	case 0xFF22:
		return r.nr43
	case 0xFF23:
		return r.nr44 | 0xBF
	case 0xFF24:
		return r.nr50
	case 0xFF25:
		return r.nr51
	case 0xFF26:
		return r.nr52&0x80 | 0x70 // channel-active bits always read 0: nothing is running
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		return r.wave[addr-0xFF30]
	default:
		return 0xFF
	}
}

func (r *Registers) Write(addr uint16, v byte) {
	if addr == 0xFF26 {
		r.nr52 = (r.nr52 & 0x7F) | (v & 0x80)
		return
	}
	// Wave RAM stays writable regardless of power state.
	if addr >= 0xFF30 && addr <= 0xFF3F {
		r.wave[addr-0xFF30] = v
		return
	}
	if !r.powered() {
		return
	}
	switch addr {
	case 0xFF10:
		r.nr10 = v & 0x7F
	case 0xFF11:
		r.nr11 = v
	case 0xFF12:
		r.nr12 = v
	case 0xFF13:
		r.nr13 = v
	case 0xFF14:
		r.nr14 = v & 0xC7
	case 0xFF16:
		r.nr21 = v
	case 0xFF17:
		r.nr22 = v
	case 0xFF18:
		r.nr23 = v
	case 0xFF19:
		r.nr24 = v & 0xC7
	case 0xFF1A:
		r.nr30 = v & 0x80
	case 0xFF1B:
		r.nr31 = v
	case 0xFF1C:
		r.nr32 = v & 0x60
	case 0xFF1D:
		r.nr33 = v
	case 0xFF1E:
		r.nr34 = v & 0xC7
	case 0xFF20:
		r.nr41 = v & 0x3F
	case 0xFF21:
		r.nr42 = v
	case 0xFF22:
		r.nr43 = v
	case 0xFF23:
		r.nr44 = v & 0xC0
	case 0xFF24:
		r.nr50 = v
	case 0xFF25:
		r.nr51 = v
	}
}

type regState struct {
	NR10, NR11, NR12, NR13, NR14 byte
	NR21, NR22, NR23, NR24       byte
	NR30, NR31, NR32, NR33, NR34 byte
	NR41, NR42, NR43, NR44       byte
	NR50, NR51, NR52             byte
	Wave                         [16]byte
}

func (r *Registers) SaveState() []byte {
	s := regState{
		NR10: r.nr10, NR11: r.nr11, NR12: r.nr12, NR13: r.nr13, NR14: r.nr14,
		NR21: r.nr21, NR22: r.nr22, NR23: r.nr23, NR24: r.nr24,
		NR30: r.nr30, NR31: r.nr31, NR32: r.nr32, NR33: r.nr33, NR34: r.nr34,
		NR41: r.nr41, NR42: r.nr42, NR43: r.nr43, NR44: r.nr44,
		NR50: r.nr50, NR51: r.nr51, NR52: r.nr52, Wave: r.wave,
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (r *Registers) LoadState(data []byte) {
	var s regState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	r.nr10, r.nr11, r.nr12, r.nr13, r.nr14 = s.NR10, s.NR11, s.NR12, s.NR13, s.NR14
	r.nr21, r.nr22, r.nr23, r.nr24 = s.NR21, s.NR22, s.NR23, s.NR24
	r.nr30, r.nr31, r.nr32, r.nr33, r.nr34 = s.NR30, s.NR31, s.NR32, s.NR33, s.NR34
	r.nr41, r.nr42, r.nr43, r.nr44 = s.NR41, s.NR42, s.NR43, s.NR44
	r.nr50, r.nr51, r.nr52 = s.NR50, s.NR51, s.NR52
	r.wave = s.Wave
}
