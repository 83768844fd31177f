package ui

// Config contains window/input related settings for the reference host.
type Config struct {
	Title   string // window title
	Scale   int    // integer upscaling factor
	ROMsDir string // ROM directory; App does not read it (no ROM browser)
}

// Defaults fills missing fields with reasonable defaults.
func (c *Config) Defaults() {
	if c.Title == "" {
		c.Title = "gbemu"
	}
	if c.Scale <= 0 {
		c.Scale = 3
	}
	if c.ROMsDir == "" {
		c.ROMsDir = "roms"
	}
}
