package emulator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"jordanella.com/yys-helper/internal/adb"
)

// MuMu Player 12 exposes instance N on a fixed loopback adb port.
const (
	MuMuBasePort      = 16384
	MuMuPortIncrement = 32
)

// vms folder prefixes of the CN and global MuMu 12 builds.
var instanceFolderPrefixes = []string{"MuMuPlayer-12.0-", "MuMuPlayerGlobal-12.0-"}

// MuMuInstance represents a MuMu Player instance
type MuMuInstance struct {
	Index      int
	PlayerName string // custom name from extra_config.json
	Serial     string
}

// MuMuExtraConfig represents the extra_config.json structure
type MuMuExtraConfig struct {
	PlayerName string `json:"playerName"`
	Status     int    `json:"status"`
}

// MuMuSerial is the adb serial of instance index.
func MuMuSerial(index int) string {
	return fmt.Sprintf("127.0.0.1:%d", MuMuBasePort+index*MuMuPortIncrement)
}

// MuMuIndex maps a serial back to its instance index.
func MuMuIndex(serial string) (int, bool) {
	if !adb.IsNetworkSerial(serial) {
		return 0, false
	}
	host, portStr, ok := strings.Cut(serial, ":")
	if !ok || (host != "127.0.0.1" && host != "localhost") {
		return 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < MuMuBasePort || (port-MuMuBasePort)%MuMuPortIncrement != 0 {
		return 0, false
	}
	return (port - MuMuBasePort) / MuMuPortIncrement, true
}

// MuMuFolder guesses the MuMu install folder from the configured adb path,
// which is either the folder itself or its shell\adb.exe. It returns "" when
// the path does not look like a MuMu install.
func MuMuFolder(adbPath string) string {
	if adbPath == "" {
		return ""
	}
	folder := adbPath
	if info, err := os.Stat(adbPath); err == nil && !info.IsDir() {
		dir := filepath.Dir(adbPath)
		if !strings.EqualFold(filepath.Base(dir), "shell") {
			return ""
		}
		folder = filepath.Dir(dir)
	}
	if info, err := os.Stat(filepath.Join(folder, "vms")); err != nil || !info.IsDir() {
		return ""
	}
	return folder
}

// ListMuMuInstances reads every instance config under folder/vms, sorted by
// index. Instances without a readable config are skipped.
func ListMuMuInstances(folder string) ([]MuMuInstance, error) {
	vmsPath := filepath.Join(folder, "vms")
	entries, err := os.ReadDir(vmsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read vms folder: %w", err)
	}

	var instances []MuMuInstance
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		index, ok := instanceIndex(entry.Name())
		if !ok {
			continue
		}
		config, err := readInstanceConfig(filepath.Join(vmsPath, entry.Name()))
		if err != nil {
			continue
		}
		instances = append(instances, MuMuInstance{
			Index:      index,
			PlayerName: config.PlayerName,
			Serial:     MuMuSerial(index),
		})
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Index < instances[j].Index })
	return instances, nil
}

// instanceIndex extracts N from "MuMuPlayer-12.0-N"; the "base" image is
// not an instance.
func instanceIndex(folderName string) (int, bool) {
	for _, prefix := range instanceFolderPrefixes {
		if rest, ok := strings.CutPrefix(folderName, prefix); ok {
			n, err := strconv.Atoi(rest)
			return n, err == nil && n >= 0
		}
	}
	return 0, false
}

func readInstanceConfig(instanceFolder string) (*MuMuExtraConfig, error) {
	configPath := filepath.Join(instanceFolder, "configs", "extra_config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var config MuMuExtraConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
	}
	return &config, nil
}
