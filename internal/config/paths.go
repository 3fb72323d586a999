package config

import (
	"os"
	"path/filepath"
)

// Paths holds the resolved filesystem locations used by relaydesk.
type Paths struct {
	Home   string // base directory, default ~/.relaydesk
	Config string // config file path
	Data   string // data directory (sqlite database lives here)
}

// ResolvePaths computes the default paths, honoring RELAYDESK_HOME.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("RELAYDESK_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, ".relaydesk")
	}

	return Paths{
		Home:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
	}, nil
}
