package emu

import (
	"strings"

	"github.com/dmgcore/gbcore/internal/cart"
)

// GameProfile is an informational hint derived from the cartridge header.
// It never changes emulated behavior — this core only ever produces the
// four DMG grayscale shades, and runs every cartridge type the same way —
// but a host UI may use PaletteFamily to theme its window chrome the way a
// CGB-aware DMG player would tint an otherwise-gray screen.
type GameProfile struct {
	Title         string
	PaletteFamily string
}

// paletteFamilyNames indexes the IDs produced by the tables below.
var paletteFamilyNames = []string{"Green", "Sepia", "Blue", "Red", "Pastel", "Classic"}

// profileTitleExact maps exact, normalized titles to a preferred palette family.
var profileTitleExact = map[string]int{
	"TETRIS":              2,
	"TETRIS DX":           2,
	"SUPER MARIO LAND":    3,
	"SUPER MARIO LAND 2":  3,
	"DR. MARIO":           4,
	"DONKEY KONG":         1,
	"THE LEGEND OF ZELDA": 0,
	"ZELDA":               0,
	"METROID II":          3,
	"KIRBY'S DREAM LAND":  4,
	"MEGA MAN":            2,
	"MEGAMAN":             2,
	"WARIO LAND":          1,
	"POKEMON YELLOW":      4,
	"POKEMON RED":         4,
	"POKEMON BLUE":        4,
	"POCKET MONSTERS":     4,
}

type containsRule struct {
	substr string
	id     int
}

// profileTitleContains applies broader substring heuristics for families.
var profileTitleContains = []containsRule{
	{"TETRIS", 2},
	{"MARIO", 3},
	{"ZELDA", 0},
	{"KIRBY", 4},
	{"DONKEY KONG", 1},
	{"METROID", 3},
	{"MEGA MAN", 2},
	{"MEGAMAN", 2},
	{"WARIO", 1},
	{"POKEMON", 4},
	{"POCKET MONSTERS", 4},
}

// detectGameProfile picks a palette family using a small title table and a
// stable fallback keyed on licensee/checksum, the way a CGB picks a default
// boot palette for an unrecognized DMG cartridge.
func detectGameProfile(h *cart.Header) GameProfile {
	if h == nil {
		return GameProfile{PaletteFamily: paletteFamilyNames[5]}
	}
	title := strings.TrimSpace(strings.TrimRight(h.Title, "\x00"))
	t := strings.ToUpper(title)

	id, ok := profileTitleExact[t]
	if !ok {
		for _, r := range profileTitleContains {
			if strings.Contains(t, r.substr) {
				id, ok = r.id, true
				break
			}
		}
	}
	if !ok {
		nintendo := false
		if h.OldLicensee == 0x33 {
			nintendo = strings.ToUpper(h.NewLicensee) == "01"
		} else {
			nintendo = h.OldLicensee == 0x01
		}
		if nintendo {
			id = int(h.HeaderChecksum) % len(paletteFamilyNames)
		} else {
			id = 5
		}
	}
	return GameProfile{Title: title, PaletteFamily: paletteFamilyNames[id]}
}
