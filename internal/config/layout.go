package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultHomeName is the directory created under the user's home when no
// override is given.
const DefaultHomeName = "TangraAssets"

// HomeEnv names the environment variable that relocates the home directory.
const HomeEnv = EnvPrefix + "_HOME"

// Layout is the on-disk arrangement below the application home.
type Layout struct {
	Home         string
	DataDir      string
	BackupsDir   string
	ModelsDir    string
	LogsDir      string
	DatabasePath string
}

// ResolveHome picks the home directory: explicit override first, then
// TANGRA_ASSETS_HOME, then <user home>/TangraAssets.
func ResolveHome(override string) (string, error) {
	if h := strings.TrimSpace(override); h != "" {
		return filepath.Abs(h)
	}
	if h := strings.TrimSpace(os.Getenv(HomeEnv)); h != "" {
		return filepath.Abs(h)
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return filepath.Join(userHome, DefaultHomeName), nil
}

// NewLayout derives every path from home.
func NewLayout(home, databaseFile string) Layout {
	if databaseFile == "" {
		databaseFile = "inventory.db"
	}
	data := filepath.Join(home, "data")
	return Layout{
		Home:         home,
		DataDir:      data,
		BackupsDir:   filepath.Join(home, "backups"),
		ModelsDir:    filepath.Join(home, "models"),
		LogsDir:      filepath.Join(home, "logs"),
		DatabasePath: filepath.Join(data, databaseFile),
	}
}

// LayoutFor resolves the home for cfg and derives the layout.
func LayoutFor(cfg *Config) (Layout, error) {
	home, err := ResolveHome(cfg.Home)
	if err != nil {
		return Layout{}, err
	}
	return NewLayout(home, cfg.DatabaseFile), nil
}

// Ensure creates the directories of the layout.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.DataDir, l.BackupsDir, l.ModelsDir, l.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
