package emu

import "fmt"

// RomLoadError means the supplied ROM image could not be parsed as a
// cartridge (too small, malformed header). It is always fatal to the load
// call that produced it; the Machine is left as it was before the call.
type RomLoadError struct {
	Reason string
}

func (e *RomLoadError) Error() string {
	return fmt.Sprintf("rom load failed: %s", e.Reason)
}
