package adb

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Device states reported by `adb devices`.
const (
	StateDevice       = "device"
	StateOffline      = "offline"
	StateUnauthorized = "unauthorized"
)

// DeviceInfo is one line of `adb devices`.
type DeviceInfo struct {
	Serial string
	State  string
}

// Online reports whether the device accepts commands.
func (d DeviceInfo) Online() bool {
	return d.State == StateDevice
}

// ParseDevices parses the output of `adb devices`.
func ParseDevices(output string) []DeviceInfo {
	var devices []DeviceInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		devices = append(devices, DeviceInfo{Serial: parts[0], State: parts[1]})
	}
	return devices
}

// IsNetworkSerial reports whether serial is a host:port address that needs
// `adb connect` before use.
func IsNetworkSerial(serial string) bool {
	if strings.HasPrefix(serial, "emulator-") {
		return false
	}
	return strings.Contains(serial, ":")
}

// FindADB attempts to locate the ADB executable
func FindADB(preferredPath string) (string, error) {
	// Try preferred path first: either the binary itself or an emulator
	// install folder.
	if preferredPath != "" {
		candidates := []string{preferredPath}
		name := "adb"
		if runtime.GOOS == "windows" {
			name = "adb.exe"
		}
		candidates = append(candidates,
			filepath.Join(preferredPath, name),
			filepath.Join(preferredPath, "shell", name),
			filepath.Join(preferredPath, "platform-tools", name),
		)
		for _, p := range candidates {
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, nil
			}
		}
	}

	// Try common paths
	commonPaths := []string{
		// MuMu Player
		`C:\Program Files\Netease\MuMuPlayer-12.0\shell\adb.exe`,
		`C:\Program Files (x86)\Netease\MuMuPlayer-12.0\shell\adb.exe`,
		// LDPlayer
		`C:\LDPlayer\LDPlayer9\adb.exe`,

		// Android SDK
		`C:\Android\sdk\platform-tools\adb.exe`,
		`${LOCALAPPDATA}\Android\Sdk\platform-tools\adb.exe`,

		// PATH
		"adb.exe",
	}

	if runtime.GOOS != "windows" {
		commonPaths = []string{
			"/usr/bin/adb",
			"/usr/local/bin/adb",
			"/opt/homebrew/bin/adb",
			"${HOME}/Android/Sdk/platform-tools/adb",
			"${HOME}/Library/Android/sdk/platform-tools/adb",
			"adb",
		}
	}

	for _, path := range commonPaths {
		// Expand environment variables
		expandedPath := os.ExpandEnv(path)

		if _, err := os.Stat(expandedPath); err == nil {
			return expandedPath, nil
		}

		// Try exec.LookPath for PATH entries
		if !strings.ContainsAny(path, `/\`) {
			if adbPath, err := exec.LookPath(path); err == nil {
				return adbPath, nil
			}
		}
	}

	return "", fmt.Errorf("adb not found, please set adb.path in config")
}
