package ppu

import (
	"bytes"
	"encoding/gob"
)

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// LineRegs is a snapshot of the registers that shape a scanline, captured at
// the moment mode 3 (pixel transfer) begins for that line. Real hardware
// locks scroll/window state mid-line; this captures once per line, which is
// close enough for the mid-frame writes games actually rely on (raster
// splits are out of scope).
type LineRegs struct {
	LY, SCX, SCY, WX, WY   byte
	LCDC, BGP, OBP0, OBP1  byte
	WinLine                int
}

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, and basic timing.
// It exposes CPU-facing Read/Write for VRAM/OAM and PPU IO regs, plus a
// pixel-fetch pipeline that renders into a grayscale framebuffer.
type PPU struct {
	// memory
	vram [0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte   // 0xFE00–0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot int // dots within current line [0..455]

	lineRegs       [154]LineRegs
	winLineCounter byte

	framebuffer [160 * 144]byte // one grayscale shade byte per pixel: 255,170,85,0
	frameReady  bool

	req InterruptRequester
}

func New(req InterruptRequester) *PPU { return &PPU{req: req} }

// Read satisfies VRAMReader so the PPU can feed its own fetcher during
// rendering without exposing CPU-side mode restrictions.
func (p *PPU) Read(addr uint16) byte {
	if addr >= 0x8000 && addr <= 0x9FFF {
		return p.vram[addr-0x8000]
	}
	return 0xFF
}

// DMAWriteOAM stores a byte at the given OAM offset (0..0x9F), bypassing the
// CPU-side mode-2/3 access lock. OAM DMA is driven by dedicated hardware that
// is not subject to the CPU's own bus restrictions, and its 160-byte transfer
// completes as a single unit rather than being stepped one byte per cycle.
func (p *PPU) DMAWriteOAM(i int, value byte) {
	if i >= 0 && i < len(p.oam) {
		p.oam[i] = value
	}
}

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		// VRAM is inaccessible to CPU during mode 3 (return 0xFF)
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		// OAM is inaccessible during modes 2 and 3
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		// On DMG, bit7 reads as 1; bit6..3 are enables; bit2 coincidence; bit1..0 mode
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			// Turning LCD off resets LY/mode
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			// Turning LCD on: start at LY=0, mode 2 (OAM)
			p.ly = 0
			p.dot = 0
			p.winLineCounter = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++
		// Mode scheduling
		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		p.setMode(mode)

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				// Enter VBlank
				p.frameReady = true
				if p.req != nil {
					p.req(0)
				} // VBlank IF
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1)
					}
				} // STAT VBlank
			} else if p.ly > 153 {
				p.ly = 0
				p.winLineCounter = 0
			}
			p.updateLYC()
			// Set mode for new line start (dot=0)
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank: pixel transfer for this line just finished
		if prev == 3 {
			p.renderLine(p.ly)
		}
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 3: // pixel transfer begins: lock in this line's registers
		p.captureLineRegs(p.ly)
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat & (1 << 6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// captureLineRegs snapshots the registers that drive rendering for ly and
// advances the window-line counter if the window is visible on this line.
func (p *PPU) captureLineRegs(ly byte) {
	if int(ly) >= len(p.lineRegs) {
		return
	}
	visible := (p.lcdc&0x20) != 0 && p.wx < 166 && p.wy <= ly
	p.lineRegs[ly] = LineRegs{
		LY: ly, SCX: p.scx, SCY: p.scy, WX: p.wx, WY: p.wy,
		LCDC: p.lcdc, BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
		WinLine: int(p.winLineCounter),
	}
	if visible {
		p.winLineCounter++
	}
}

// LineRegs returns the register snapshot captured for scanline ly, or the
// zero value if that line has not reached pixel transfer yet.
func (p *PPU) LineRegs(ly int) LineRegs {
	if ly < 0 || ly >= len(p.lineRegs) {
		return LineRegs{}
	}
	return p.lineRegs[ly]
}

func shade(ci byte, palette byte) byte {
	switch (palette >> (ci * 2)) & 0x03 {
	case 0:
		return 255
	case 1:
		return 170
	case 2:
		return 85
	default:
		return 0
	}
}

// renderLine composes BG, window, and sprite layers for ly into the
// framebuffer, using the registers captured at this line's mode-3 entry.
func (p *PPU) renderLine(ly byte) {
	reg := p.LineRegs(int(ly))
	if reg.LCDC&0x80 == 0 {
		return
	}

	var bgci [160]byte
	if reg.LCDC&0x01 != 0 {
		mapBase := uint16(0x9800)
		if reg.LCDC&0x08 != 0 {
			mapBase = 0x9C00
		}
		tileData8000 := reg.LCDC&0x10 != 0
		bgci = RenderBGScanlineUsingFetcher(p, mapBase, tileData8000, reg.SCX, reg.SCY, ly)
	}

	if reg.LCDC&0x20 != 0 && reg.WX < 166 && reg.WY <= ly {
		winMapBase := uint16(0x9800)
		if reg.LCDC&0x40 != 0 {
			winMapBase = 0x9C00
		}
		tileData8000 := reg.LCDC&0x10 != 0
		wxStart := int(reg.WX) - 7
		wci := RenderWindowScanlineUsingFetcher(p, winMapBase, tileData8000, wxStart, byte(reg.WinLine))
		start := wxStart
		if start < 0 {
			start = 0
		}
		for x := start; x < 160; x++ {
			bgci[x] = wci[x]
		}
	}

	var row [160]byte
	for x := 0; x < 160; x++ {
		row[x] = shade(bgci[x], reg.BGP)
	}

	if reg.LCDC&0x02 != 0 {
		tall := reg.LCDC&0x04 != 0
		sprites := p.scanOAMForLine(ly, tall)
		ci, pal := composeSpriteLineFull(p, sprites, ly, bgci, tall)
		for x := 0; x < 160; x++ {
			if ci[x] == 0 {
				continue
			}
			palette := reg.OBP0
			if pal[x] == 1 {
				palette = reg.OBP1
			}
			row[x] = shade(ci[x], palette)
		}
	}

	copy(p.framebuffer[int(ly)*160:int(ly)*160+160], row[:])
}

// scanOAMForLine collects every sprite whose bounding box covers ly,
// translating OAM's raw (Y-16, X-8) biased coordinates to screen space.
// The real PPU caps this at 10 sprites per line; we don't enforce that cap
// (tracked as an open design decision, not a hardware-accuracy goal here).
func (p *PPU) scanOAMForLine(ly byte, tall bool) []Sprite {
	height := 8
	if tall {
		height = 16
	}
	var out []Sprite
	for i := 0; i < 40; i++ {
		base := i * 4
		y := int(p.oam[base]) - 16
		x := int(p.oam[base+1]) - 8
		tile := p.oam[base+2]
		attr := p.oam[base+3]
		row := int(ly) - y
		if row < 0 || row >= height {
			continue
		}
		out = append(out, Sprite{X: x, Y: y, Tile: tile, Attr: attr, OAMIndex: i})
	}
	return out
}

// Framebuffer returns the current grayscale frame (160x144, one shade byte
// per pixel, values in {255,170,85,0}).
func (p *PPU) Framebuffer() []byte { return p.framebuffer[:] }

// FrameReady reports whether a new frame has completed since the last
// ClearFrameReady call.
func (p *PPU) FrameReady() bool { return p.frameReady }

// ClearFrameReady acknowledges the current frame.
func (p *PPU) ClearFrameReady() { p.frameReady = false }

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }
func (p *PPU) LY() byte   { return p.ly }

type ppuState struct {
	VRAM           [0x2000]byte
	OAM            [0xA0]byte
	LCDC, STAT     byte
	SCY, SCX       byte
	LY, LYC        byte
	BGP, OBP0, OBP1 byte
	WY, WX         byte
	Dot            int
	WinLineCounter byte
}

// SaveState serializes VRAM, OAM, registers, and dot-accurate timing state.
// The framebuffer and per-line register snapshots are not persisted; they
// are fully reconstructed within one frame of resuming.
func (p *PPU) SaveState() []byte {
	s := ppuState{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat,
		SCY: p.scy, SCX: p.scx,
		LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
		WY: p.wy, WX: p.wx,
		Dot: p.dot, WinLineCounter: p.winLineCounter,
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

// LoadState restores state written by SaveState. Invalid data is ignored.
func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat = s.LCDC, s.STAT
	p.scy, p.scx = s.SCY, s.SCX
	p.ly, p.lyc = s.LY, s.LYC
	p.bgp, p.obp0, p.obp1 = s.BGP, s.OBP0, s.OBP1
	p.wy, p.wx = s.WY, s.WX
	p.dot, p.winLineCounter = s.Dot, s.WinLineCounter
}
