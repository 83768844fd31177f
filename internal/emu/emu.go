package emu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/dmgcore/gbcore/internal/bus"
	"github.com/dmgcore/gbcore/internal/cart"
	"github.com/dmgcore/gbcore/internal/cpu"
	"github.com/dmgcore/gbcore/internal/trace"
)

// Buttons is the joypad state for one frame; true means pressed.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

// Machine wires the CPU, bus (which owns the PPU, sound registers, timer and
// cartridge) together into a steppable, host-agnostic console.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU

	romPath string
	romData []byte
	header  *cart.Header
	profile GameProfile

	bootROM []byte

	w, h int
	fb   []byte // RGBA 160x144*4, refreshed on StepFrame

	tracer trace.Writer

	haltErr error // set on an invalid opcode or, under FaultAbort, a bus violation; latched, never cleared
}

// New constructs a Machine with no cartridge loaded. Call LoadCartridge or
// LoadROMFromFile before stepping.
func New(cfg Config) *Machine {
	m := &Machine{cfg: cfg, bootROM: cfg.BootROM, w: 160, h: 144, fb: make([]byte, 160*144*4)}
	if cfg.Trace {
		m.tracer.Out = os.Stderr
	}
	return m
}

// SetTraceOutput redirects the per-instruction trace (see cfg.Trace) to w,
// or disables it if w is nil. Call after New/LoadCartridge.
func (m *Machine) SetTraceOutput(w io.Writer) { m.tracer.Out = w }

// SetBootROM stages a DMG boot ROM to be mapped at 0x0000 on the next
// cartridge load. Pass nil to run straight to the post-boot register state.
func (m *Machine) SetBootROM(data []byte) {
	m.bootROM = data
}

// LoadCartridge builds a fresh Bus and CPU around rom, optionally overlaying
// boot at 0x0000 until it disables itself via the FF50 register.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return &RomLoadError{Reason: err.Error()}
	}

	m.header = h
	m.romData = rom
	m.profile = detectGameProfile(h)

	b := bus.New(rom)
	b.SetFaultPolicy(m.cfg.FaultPolicy)

	if len(boot) == 0 {
		boot = m.bootROM
	}
	c := cpu.New(b)
	if len(boot) >= 0x100 {
		b.SetBootROM(boot)
		c.SP = 0xFFFE
		c.PC = 0x0000
		c.IME = false
	} else {
		c.ResetNoBoot()
		writePostBootIO(b)
	}

	m.bus = b
	m.cpu = c
	return nil
}

// LoadROMFromFile reads romPath and loads it via LoadCartridge, reusing any
// boot ROM previously staged with SetBootROM. It also records romPath for
// ROMPath()/sibling .sav lookups. This builds a brand new Bus, so a serial
// writer or fault sink must be reattached afterward.
func (m *Machine) LoadROMFromFile(romPath string) error {
	data, err := os.ReadFile(romPath)
	if err != nil {
		return &RomLoadError{Reason: err.Error()}
	}
	if err := m.LoadCartridge(data, m.bootROM); err != nil {
		return err
	}
	m.romPath = romPath
	return nil
}

// writePostBootIO seeds the IO registers a real DMG boot ROM leaves behind,
// for the no-boot-ROM fast path (mirrors cmd/cpurunner's equivalent setup).
func writePostBootIO(b *bus.Bus) {
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00)
	b.Write(0xFF06, 0x00)
	b.Write(0xFF07, 0x00)
	b.Write(0xFF40, 0x91)
	b.Write(0xFF42, 0x00)
	b.Write(0xFF43, 0x00)
	b.Write(0xFF45, 0x00)
	b.Write(0xFF47, 0xFC)
	b.Write(0xFF48, 0xFF)
	b.Write(0xFF49, 0xFF)
	b.Write(0xFF4A, 0x00)
	b.Write(0xFF4B, 0x00)
	b.Write(0xFFFF, 0x00)
}

// ResetPostBoot restarts the currently loaded cartridge at the DMG post-boot
// register state, skipping any staged boot ROM.
func (m *Machine) ResetPostBoot() error {
	if m.header == nil {
		return fmt.Errorf("no cartridge loaded")
	}
	saved := m.bootROM
	m.bootROM = nil
	err := m.LoadCartridge(m.romData, nil)
	m.bootROM = saved
	return err
}

// ResetWithBoot restarts the currently loaded cartridge from 0x0000 using the
// boot ROM staged via SetBootROM, if any.
func (m *Machine) ResetWithBoot() error {
	if m.header == nil {
		return fmt.Errorf("no cartridge loaded")
	}
	return m.LoadCartridge(m.romData, m.bootROM)
}

// SetSerialWriter attaches a sink for the serial port (FF01/FF02). Call this
// after LoadCartridge/LoadROMFromFile, since loading replaces the Bus.
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// SetButtons updates joypad state for the next Step/StepFrame calls.
func (m *Machine) SetButtons(b Buttons) {
	if m.bus != nil {
		m.bus.SetJoypadState(b.mask())
	}
}

// StepFrame runs the CPU until the PPU reports a completed frame, then
// converts its grayscale framebuffer into the RGBA buffer Framebuffer()
// returns. It returns the fatal error that halted the CPU, if any; once
// halted, the Machine stops executing and every subsequent StepFrame
// returns the same error without advancing.
func (m *Machine) StepFrame() error {
	err := m.runUntilFrameReady()
	m.blit()
	return err
}

// StepFrameNoRender is StepFrame without the RGBA conversion, for headless
// test-ROM runners that only care about serial output or CPU state.
func (m *Machine) StepFrameNoRender() error {
	return m.runUntilFrameReady()
}

// Halted reports whether the CPU has stopped on a fatal opcode/bus error.
func (m *Machine) Halted() bool { return m.haltErr != nil }

// HaltErr returns the fatal error that stopped the CPU, or nil if it is
// still running.
func (m *Machine) HaltErr() error { return m.haltErr }

func (m *Machine) runUntilFrameReady() error {
	if m.haltErr != nil {
		return m.haltErr
	}
	if m.cpu == nil || m.bus == nil {
		return nil
	}
	p := m.bus.PPU()
	for !p.FrameReady() {
		if m.tracer.Out != nil {
			m.tracer.Step(m.bus, m.traceState(), 0)
		}
		if _, err := m.cpu.Step(); err != nil {
			if m.cfg.Trace {
				fmt.Fprintf(os.Stderr, "gbcore: step error: %v\n", err)
			}
			_, badOp := err.(*cpu.InvalidOpcode)
			_, busErr := err.(*bus.BusViolation) // only returned under FaultAbort
			if badOp || busErr {
				m.haltErr = err
				return m.haltErr
			}
		}
	}
	p.ClearFrameReady()
	return nil
}

// traceState snapshots the CPU registers the trace line format reports.
func (m *Machine) traceState() trace.CPUState {
	c := m.cpu
	return trace.CPUState{
		PC: c.PC, SP: c.SP,
		A: c.A, F: c.F, B: c.B, C: c.C, D: c.D, E: c.E, H: c.H, L: c.L,
		IME: c.IME,
		IF:  m.bus.Read(0xFF0F),
		IE:  m.bus.Read(0xFFFF),
	}
}

// blit expands the PPU's one-byte-per-pixel grayscale framebuffer (shades
// 0/85/170/255) into opaque RGBA.
func (m *Machine) blit() {
	src := m.bus.PPU().Framebuffer()
	for i, shade := range src {
		o := i * 4
		m.fb[o] = shade
		m.fb[o+1] = shade
		m.fb[o+2] = shade
		m.fb[o+3] = 0xFF
	}
}

// Framebuffer returns the current frame as RGBA, 160x144 pixels.
func (m *Machine) Framebuffer() []byte { return m.fb }

// Loaded reports whether a cartridge has been loaded via LoadCartridge or
// LoadROMFromFile.
func (m *Machine) Loaded() bool { return m.bus != nil && m.cpu != nil }

// ROMPath returns the path passed to LoadROMFromFile, or "" if the cartridge
// was loaded via LoadCartridge directly.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header's title, or "" if none is loaded.
func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// Profile returns the informational DMG palette/compatibility hint derived
// from the cartridge header. It does not affect rendering: this core only
// ever produces the four DMG grayscale shades.
func (m *Machine) Profile() GameProfile { return m.profile }

// LoadBattery restores external cartridge RAM (e.g. from a .sav file) if the
// current cartridge supports battery backup. Returns false if unsupported.
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns a copy of external cartridge RAM for persistence.
// ok is false if the cartridge has no battery-backed RAM.
func (m *Machine) SaveBattery() (data []byte, ok bool) {
	if m.bus == nil {
		return nil, false
	}
	bb, isBat := m.bus.Cart().(cart.BatteryBacked)
	if !isBat {
		return nil, false
	}
	d := bb.SaveRAM()
	if d == nil {
		return nil, false
	}
	return d, true
}

// machineState is the gob envelope SaveState/LoadState round-trip: CPU
// registers plus the opaque Bus blob (which itself nests PPU/sound/cart
// state).
type machineState struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
	IME                    bool
	BusBlob                []byte
}

// SaveState serializes CPU registers and the full Bus (PPU, sound, timer,
// cartridge banking/RAM) via gob.
func (m *Machine) SaveState() []byte {
	if m.bus == nil || m.cpu == nil {
		return nil
	}
	s := machineState{
		A: m.cpu.A, F: m.cpu.F, B: m.cpu.B, C: m.cpu.C,
		D: m.cpu.D, E: m.cpu.E, H: m.cpu.H, L: m.cpu.L,
		SP: m.cpu.SP, PC: m.cpu.PC, IME: m.cpu.IME,
		BusBlob: m.bus.SaveState(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil
	}
	return buf.Bytes()
}

// LoadState restores state written by SaveState onto the currently loaded
// cartridge's Bus.
func (m *Machine) LoadState(data []byte) error {
	if m.bus == nil || m.cpu == nil {
		return fmt.Errorf("no cartridge loaded")
	}
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	m.cpu.A, m.cpu.F, m.cpu.B, m.cpu.C = s.A, s.F, s.B, s.C
	m.cpu.D, m.cpu.E, m.cpu.H, m.cpu.L = s.D, s.E, s.H, s.L
	m.cpu.SP, m.cpu.PC, m.cpu.IME = s.SP, s.PC, s.IME
	m.bus.LoadState(s.BusBlob)
	return nil
}

// SaveStateToFile serializes state (see SaveState) and writes it to path.
func (m *Machine) SaveStateToFile(path string) error {
	data := m.SaveState()
	if data == nil {
		return fmt.Errorf("no cartridge loaded")
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadStateFromFile reads path and restores state saved by SaveStateToFile.
func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.LoadState(data)
}
