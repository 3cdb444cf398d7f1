package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/pop-os/mozc/pkg/fs"
	"github.com/pop-os/mozc/pkg/lrustorage"
)

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigInvalid      = errors.New("invalid config")
)

// Config holds the defaults used when creating and opening storage files.
type Config struct {
	ValueSize   int    `json:"value_size"`
	Size        int    `json:"size"`
	Seed        uint32 `json:"seed"`
	Writeback   string `json:"writeback,omitempty"`
	HistoryFile string `json:"history_file,omitempty"`

	// Source is the config file that was loaded, empty for defaults only.
	Source string `json:"-"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		ValueSize: 4,
		Size:      10000,
		Writeback: "none",
	}
}

// globalConfigPath returns $XDG_CONFIG_HOME/lructl/config.json, falling back
// to ~/.config/lructl/config.json. Empty if neither can be determined.
func globalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "lructl", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "lructl", "config.json")
	}

	return ""
}

// LoadConfig returns the defaults overlaid with a config file.
//
// With an explicit configPath the file must exist; otherwise the global
// config file is used if present. Files are read through fsys.
func LoadConfig(fsys fs.FS, configPath string, env map[string]string) (Config, error) {
	cfg := DefaultConfig()

	path := configPath
	mustExist := path != ""

	if !mustExist {
		path = globalConfigPath(env)
		if path == "" {
			return cfg, nil
		}
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, nil
		}

		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
		}

		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	fileCfg, present, err := parseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	cfg = mergeConfig(cfg, fileCfg, present)
	cfg.Source = path

	err = validateConfig(cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return cfg, nil
}

// parseConfig decodes JSONC. present reports which keys the file set, so an
// explicit zero seed still overrides.
func parseConfig(data []byte) (Config, map[string]bool, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	unmarshalErr := json.Unmarshal(standardized, &cfg)
	if unmarshalErr != nil {
		return Config{}, nil, fmt.Errorf("invalid JSON: %w", unmarshalErr)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	present := make(map[string]bool, len(raw))
	for key := range raw {
		present[key] = true
	}

	return cfg, present, nil
}

func mergeConfig(base, overlay Config, present map[string]bool) Config {
	if present["value_size"] {
		base.ValueSize = overlay.ValueSize
	}

	if present["size"] {
		base.Size = overlay.Size
	}

	if present["seed"] {
		base.Seed = overlay.Seed
	}

	if overlay.Writeback != "" {
		base.Writeback = overlay.Writeback
	}

	if overlay.HistoryFile != "" {
		base.HistoryFile = overlay.HistoryFile
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.ValueSize < 1 {
		return fmt.Errorf("value_size must be >= 1, got %d", cfg.ValueSize)
	}

	if cfg.Size < 1 {
		return fmt.Errorf("size must be >= 1, got %d", cfg.Size)
	}

	_, err := parseWriteback(cfg.Writeback)

	return err
}

func parseWriteback(s string) (lrustorage.WritebackMode, error) {
	switch s {
	case "", "none":
		return lrustorage.WritebackNone, nil
	case "sync":
		return lrustorage.WritebackSync, nil
	default:
		return 0, fmt.Errorf("writeback must be \"none\" or \"sync\", got %q", s)
	}
}
