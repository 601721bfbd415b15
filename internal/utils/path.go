package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
)

// AppName names the config and data directories.
const AppName = "nextword"

// UserConfigDir returns the platform config directory for nextword.
func UserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "linux":
		if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
			return filepath.Join(configHome, AppName), nil
		}
		return filepath.Join(homeDir, ".config", AppName), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppName), nil
		}
		return filepath.Join(homeDir, "AppData", "Roaming", AppName), nil
	default:
		return filepath.Join(homeDir, ".config", AppName), nil
	}
}

// ResolvePath expands a leading ~ and resolves a relative path against base.
// Absolute paths and the empty string come back unchanged.
func ResolvePath(path, base string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Warnf("Could not expand %s: %v", path, err)
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if filepath.IsAbs(path) {
		return path
	}
	if base == "" {
		return GetAbsolutePath(path)
	}
	return filepath.Join(base, path)
}
