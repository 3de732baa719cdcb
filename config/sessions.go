package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Session defines one gateway session and the symbols it subscribes to.
// Symbols listed inline and symbols loaded from files are combined in order.
type Session struct {
	Symbols     []string `yaml:"symbols"`
	SymbolFiles []string `yaml:"symbol_files"`
}

// Sessions represents the full multi-session configuration. Each entry maps
// to one independent gateway connection; an empty list means a single session
// carrying the main subscription's symbols.
type Sessions struct {
	Sessions []Session `yaml:"sessions"`
}

// LoadSessions loads the session partitioning from the given path.
func LoadSessions(path string) (*Sessions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions file: %w", err)
	}
	var cfg Sessions
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse sessions file: %w", err)
	}
	for i, s := range cfg.Sessions {
		if len(s.Symbols) == 0 && len(s.SymbolFiles) == 0 {
			return nil, fmt.Errorf("session %d has no symbols or symbol_files", i)
		}
	}
	return &cfg, nil
}
