package emulator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuMuSerial(t *testing.T) {
	assert.Equal(t, "127.0.0.1:16384", MuMuSerial(0))
	assert.Equal(t, "127.0.0.1:16416", MuMuSerial(1))
	assert.Equal(t, "127.0.0.1:16480", MuMuSerial(3))
}

func TestMuMuIndex(t *testing.T) {
	tests := []struct {
		serial string
		index  int
		ok     bool
	}{
		{"127.0.0.1:16384", 0, true},
		{"127.0.0.1:16448", 2, true},
		{"localhost:16416", 1, true},
		{"127.0.0.1:16400", 0, false},
		{"127.0.0.1:5555", 0, false},
		{"192.168.1.5:16384", 0, false},
		{"emulator-5554", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.serial, func(t *testing.T) {
			index, ok := MuMuIndex(tt.serial)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.index, index)
		})
	}
}

func writeInstance(t *testing.T, folder, name, config string) {
	t.Helper()
	dir := filepath.Join(folder, "vms", name, "configs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if config != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "extra_config.json"), []byte(config), 0o644))
	}
}

func TestListMuMuInstances(t *testing.T) {
	folder := t.TempDir()
	writeInstance(t, folder, "MuMuPlayer-12.0-2", `{"playerName": "alt", "status": 0}`)
	writeInstance(t, folder, "MuMuPlayer-12.0-0", `{"playerName": "main"}`)
	writeInstance(t, folder, "MuMuPlayerGlobal-12.0-1", `{"playerName": "global"}`)
	writeInstance(t, folder, "MuMuPlayer-12.0-base", `{}`)
	writeInstance(t, folder, "MuMuPlayer-12.0-3", "")

	instances, err := ListMuMuInstances(folder)
	require.NoError(t, err)
	assert.Equal(t, []MuMuInstance{
		{Index: 0, PlayerName: "main", Serial: "127.0.0.1:16384"},
		{Index: 1, PlayerName: "global", Serial: "127.0.0.1:16416"},
		{Index: 2, PlayerName: "alt", Serial: "127.0.0.1:16448"},
	}, instances)

	_, err = ListMuMuInstances(t.TempDir())
	assert.Error(t, err)
}

func TestMuMuFolder(t *testing.T) {
	folder := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(folder, "vms"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(folder, "shell"), 0o755))
	adbExe := filepath.Join(folder, "shell", "adb.exe")
	require.NoError(t, os.WriteFile(adbExe, nil, 0o755))

	assert.Equal(t, folder, MuMuFolder(folder))
	assert.Equal(t, folder, MuMuFolder(adbExe))
	assert.Empty(t, MuMuFolder(""))
	assert.Empty(t, MuMuFolder(t.TempDir()))
}
