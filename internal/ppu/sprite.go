package ppu

// Sprite is an OAM entry already translated to screen space: X/Y are the
// sprite's on-screen top-left pixel (OAM's raw values with the -8/-16 bias
// already applied), ready for per-scanline composition.
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// ComposeSpriteLine renders the sprite layer for scanline ly into 160 color
// indices, applying the DMG priority rules: a transparent pixel (ci=0)
// never wins, the smallest on-screen X wins a tie, and a tie in X is broken
// by the smaller OAM index. Attr bit7 (BG priority) hides that sprite's
// pixel only where the background color index is nonzero.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, tall bool) [160]byte {
	ci, _ := composeSpriteLineFull(mem, sprites, ly, bgci, tall)
	return ci
}

// composeSpriteLineFull is ComposeSpriteLine plus a per-pixel palette
// selector (0=OBP0, 1=OBP1), used by the real renderer; ComposeSpriteLine
// discards the palette half so its tested signature stays unchanged.
func composeSpriteLineFull(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, tall bool) (ci [160]byte, pal [160]byte) {
	const unset = 1 << 30
	var winnerX [160]int
	var winnerOAM [160]int
	for i := range winnerX {
		winnerX[i] = unset
		winnerOAM[i] = unset
	}

	height := 8
	if tall {
		height = 16
	}

	for _, s := range sprites {
		row := int(ly) - s.Y
		if row < 0 || row >= height {
			continue
		}
		if s.Attr&0x40 != 0 { // Y flip
			row = height - 1 - row
		}
		tile := s.Tile
		if tall {
			tile &^= 1
			if row >= 8 {
				tile |= 1
				row -= 8
			}
		}
		base := uint16(0x8000) + uint16(tile)*16 + uint16(row)*2
		lo := mem.Read(base)
		hi := mem.Read(base + 1)

		for px := 0; px < 8; px++ {
			sx := s.X + px
			if sx < 0 || sx >= 160 {
				continue
			}
			bit := 7 - px
			if s.Attr&0x20 != 0 { // X flip
				bit = px
			}
			pxci := ((hi>>uint(bit))&1)<<1 | ((lo >> uint(bit)) & 1)
			if pxci == 0 {
				continue
			}
			if s.Attr&0x80 != 0 && bgci[sx] != 0 {
				continue // hidden behind a nonzero BG pixel
			}
			if s.X < winnerX[sx] || (s.X == winnerX[sx] && s.OAMIndex < winnerOAM[sx]) {
				winnerX[sx] = s.X
				winnerOAM[sx] = s.OAMIndex
				ci[sx] = pxci
				if s.Attr&0x10 != 0 {
					pal[sx] = 1
				} else {
					pal[sx] = 0
				}
			}
		}
	}
	return ci, pal
}
