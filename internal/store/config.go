package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type GlobalConfig struct {
	// BaseURL is the backend root, e.g. "http://localhost:8080".
	BaseURL string `json:"baseURL,omitempty"`

	PageSize    int `json:"pageSize,omitempty"`
	PollSeconds int `json:"pollSeconds,omitempty"`

	// ResetPageOnSearch returns to page 1 when the keyword changes. nil means true.
	ResetPageOnSearch *bool `json:"resetPageOnSearch,omitempty"`

	// ExportDir is where downloaded spreadsheets are written. Empty means the working directory.
	ExportDir string `json:"exportDir,omitempty"`

	// RestoreTimeoutMs bounds how long navigation waits for session restoration.
	RestoreTimeoutMs int `json:"restoreTimeoutMs,omitempty"`

	TUI *TUIConfig `json:"tui,omitempty"`
}

type TUIConfig struct {
	// Profile is the color profile id ("default", "mono").
	Profile string `json:"profile,omitempty"`
	// Markdown selects the glamour style for report previews ("auto", "dark", "light", "notty").
	Markdown string `json:"markdown,omitempty"`
}

const (
	DefaultPollSeconds      = 10
	DefaultRestoreTimeoutMs = 3000
)

func (c *GlobalConfig) PageSizeOrDefault(def int) int {
	if c == nil || c.PageSize < 1 {
		return def
	}
	return c.PageSize
}

func (c *GlobalConfig) PollInterval() time.Duration {
	if c == nil || c.PollSeconds < 1 {
		return DefaultPollSeconds * time.Second
	}
	return time.Duration(c.PollSeconds) * time.Second
}

func (c *GlobalConfig) ResetsPageOnSearch() bool {
	if c == nil || c.ResetPageOnSearch == nil {
		return true
	}
	return *c.ResetPageOnSearch
}

func (c *GlobalConfig) RestoreTimeout() time.Duration {
	if c == nil || c.RestoreTimeoutMs < 1 {
		return DefaultRestoreTimeoutMs * time.Millisecond
	}
	return time.Duration(c.RestoreTimeoutMs) * time.Millisecond
}

// ConfigKeys lists the keys accepted by Set, in display order.
var ConfigKeys = []string{"baseURL", "pageSize", "pollSeconds", "resetPageOnSearch", "exportDir", "restoreTimeoutMs", "tui.profile", "tui.markdown"}

// Set assigns a config value from its string form.
func (c *GlobalConfig) Set(key, value string) error {
	value = strings.TrimSpace(value)
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%s: expected a non-negative integer, got %q", key, value)
		}
		return n, nil
	}
	var err error
	switch key {
	case "baseURL":
		c.BaseURL = strings.TrimRight(value, "/")
	case "pageSize":
		c.PageSize, err = atoi()
	case "pollSeconds":
		c.PollSeconds, err = atoi()
	case "restoreTimeoutMs":
		c.RestoreTimeoutMs, err = atoi()
	case "resetPageOnSearch":
		b, perr := strconv.ParseBool(value)
		if perr != nil {
			return fmt.Errorf("%s: expected true or false, got %q", key, value)
		}
		c.ResetPageOnSearch = &b
	case "exportDir":
		c.ExportDir = value
	case "tui.profile", "tui.markdown":
		if c.TUI == nil {
			c.TUI = &TUIConfig{}
		}
		if key == "tui.profile" {
			c.TUI.Profile = value
		} else {
			c.TUI.Markdown = value
		}
	default:
		return fmt.Errorf("unknown config key %q (expected one of: %s)", key, strings.Join(ConfigKeys, ", "))
	}
	return err
}

func ConfigDir() (string, error) {
	// Test/advanced override (keeps unit tests from touching ~/.relief).
	if v := strings.TrimSpace(os.Getenv("RELIEF_CONFIG_DIR")); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".relief"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

func LoadConfig() (*GlobalConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &GlobalConfig{}, nil
		}
		return nil, err
	}
	var cfg GlobalConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AtomicWriteFile writes b to path through a temp file in the same directory.
func AtomicWriteFile(path string, b []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return atomicWriteFile(dir, filepath.Base(path)+".*.tmp", path, b, perm)
}

func atomicWriteFile(dir, tmpPattern, path string, b []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_ = os.Chmod(tmp, perm)
	return os.Rename(tmp, path)
}

func SaveConfig(cfg *GlobalConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	// CLI and TUI may save concurrently; unique temp names keep writes from clobbering.
	return atomicWriteFile(dir, "config.json.*.tmp", path, b, 0o600)
}
