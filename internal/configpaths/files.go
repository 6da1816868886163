// Package configpaths locates licence-tool configuration files.
package configpaths

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	appName         = "licence-tool"
	systemConfigDir = "/etc/licence-tool"
)

// Format is a config file syntax, one per kong loader.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	TOML Format = "toml"
)

// FormatOf picks the format from a file extension. Unknown extensions are
// read as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	case ".toml":
		return TOML
	default:
		return JSON
	}
}

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("AppData"); appdata != "" {
			return filepath.Join(appdata, appName), nil
		}
		return "", errors.New("AppData not set")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", appName), nil
	}
	return "", errors.New("HOME not set")
}

// DefaultConfigPath is config.<ext> in the user configuration directory.
func DefaultConfigPath(format string) (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config"+FormatOf("."+format).ext()), nil
}

func (f Format) ext() string {
	return "." + string(f)
}

// EnsureDir creates the parent directory of filePath.
func EnsureDir(filePath string) error {
	return os.MkdirAll(filepath.Dir(filePath), 0o755)
}

// Candidates are config files per format, highest priority first.
type Candidates struct {
	JSON []string
	YAML []string
	TOML []string
}

func (c *Candidates) add(path string) {
	switch FormatOf(path) {
	case YAML:
		c.YAML = append(c.YAML, path)
	case TOML:
		c.TOML = append(c.TOML, path)
	default:
		c.JSON = append(c.JSON, path)
	}
}

func (c *Candidates) addDir(dir string, bases ...string) {
	for _, base := range bases {
		for _, ext := range []string{".json", ".yaml", ".yml", ".toml"} {
			c.add(filepath.Join(dir, base+ext))
		}
	}
}

// ConfigCandidatePaths lists where configuration is looked up: an explicit
// userPath first, then the working directory, the user directory and
// finally /etc/licence-tool on unix.
func ConfigCandidatePaths(userPath string) Candidates {
	var c Candidates
	if userPath != "" {
		c.add(userPath)
	}
	if wd, err := os.Getwd(); err == nil {
		c.addDir(wd, appName, "config")
	}
	if dir, err := DefaultConfigDir(); err == nil {
		c.addDir(dir, "config")
	}
	if runtime.GOOS != "windows" {
		c.addDir(systemConfigDir, "config")
	}
	return c
}
