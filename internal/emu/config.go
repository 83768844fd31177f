package emu

import "github.com/dmgcore/gbcore/internal/bus"

// Config contains settings that affect emulation behavior.
type Config struct {
	Trace        bool // emit a disassembled trace line per instruction via internal/trace
	LimitFPS     bool // not read by Machine; StepFrame never throttles
	UseFetcherBG bool // render BG via fetcher/FIFO scanline path; the PPU always does, kept for API compatibility
	BootROM      []byte
	// FaultPolicy controls how the bus reacts to BusViolations (echo writes,
	// unusable-region access). Zero value is bus.FaultLogAndContinue.
	FaultPolicy bus.FaultPolicy
}
