package adb

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedADB answers adb invocations from a table keyed by the joined args.
type scriptedADB struct {
	responses map[string][]string // successive outputs per command
	failures  map[string]error
	calls     []string
}

func (s *scriptedADB) run(ctx context.Context, path string, args ...string) ([]byte, error) {
	key := strings.Join(args, " ")
	s.calls = append(s.calls, key)
	if err, ok := s.failures[key]; ok {
		return nil, err
	}
	outs := s.responses[key]
	if len(outs) == 0 {
		return nil, nil
	}
	out := outs[0]
	if len(outs) > 1 {
		s.responses[key] = outs[1:]
	}
	return []byte(out), nil
}

func TestParseDevices(t *testing.T) {
	out := "* daemon started successfully\nList of devices attached\n" +
		"127.0.0.1:16384\tdevice\nemulator-5554\toffline\nR58M\tunauthorized\n\n"

	devices := ParseDevices(out)
	require.Len(t, devices, 3)
	assert.Equal(t, DeviceInfo{Serial: "127.0.0.1:16384", State: StateDevice}, devices[0])
	assert.True(t, devices[0].Online())
	assert.False(t, devices[1].Online())
	assert.Equal(t, StateUnauthorized, devices[2].State)
}

func TestIsNetworkSerial(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:16384":  true,
		"192.168.1.5:5555": true,
		"emulator-5554":    false,
		"R58M123ABC":       false,
	}
	for serial, want := range tests {
		t.Run(serial, func(t *testing.T) {
			assert.Equal(t, want, IsNetworkSerial(serial))
		})
	}
}

func TestConnect(t *testing.T) {
	t.Run("network serial online", func(t *testing.T) {
		fake := &scriptedADB{responses: map[string][]string{
			"connect 127.0.0.1:16384": {"connected to 127.0.0.1:16384"},
			"devices":                 {"List of devices attached\n127.0.0.1:16384\tdevice\n"},
		}}
		c := NewController("adb", "127.0.0.1:16384", WithRunner(fake.run))

		require.NoError(t, c.Connect(context.Background()))
		assert.True(t, c.IsConnected())
		assert.Equal(t, []string{"connect 127.0.0.1:16384", "devices"}, fake.calls)
	})

	t.Run("usb serial is not attached", func(t *testing.T) {
		fake := &scriptedADB{responses: map[string][]string{
			"devices": {"List of devices attached\nR58M\tdevice\n"},
		}}
		c := NewController("adb", "R58M", WithRunner(fake.run))

		require.NoError(t, c.Connect(context.Background()))
		assert.Equal(t, []string{"devices"}, fake.calls)
	})

	t.Run("missing serial", func(t *testing.T) {
		fake := &scriptedADB{responses: map[string][]string{
			"devices": {"List of devices attached\nemulator-5554\tdevice\n"},
		}}
		c := NewController("adb", "R58M", WithRunner(fake.run))

		err := c.Connect(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDeviceNotFound))
		assert.False(t, c.IsConnected())
	})

	t.Run("unauthorized", func(t *testing.T) {
		fake := &scriptedADB{responses: map[string][]string{
			"devices": {"List of devices attached\nR58M\tunauthorized\n"},
		}}
		c := NewController("adb", "R58M", WithRunner(fake.run))

		err := c.Connect(context.Background())
		var devErr *DeviceError
		require.ErrorAs(t, err, &devErr)
		assert.Equal(t, StateUnauthorized, devErr.State)
		assert.ErrorIs(t, err, ErrDeviceNotFound)
	})

	t.Run("offline network device reconnects once", func(t *testing.T) {
		fake := &scriptedADB{responses: map[string][]string{
			"devices": {
				"List of devices attached\n127.0.0.1:7555\toffline\n",
				"List of devices attached\n127.0.0.1:7555\tdevice\n",
			},
		}}
		c := NewController("adb", "127.0.0.1:7555", WithRunner(fake.run))

		require.NoError(t, c.Connect(context.Background()))
		assert.Equal(t, []string{
			"connect 127.0.0.1:7555",
			"devices",
			"disconnect 127.0.0.1:7555",
			"connect 127.0.0.1:7555",
			"devices",
		}, fake.calls)
	})

	t.Run("auto detect picks first online", func(t *testing.T) {
		fake := &scriptedADB{responses: map[string][]string{
			"devices": {"List of devices attached\nA\toffline\nB\tdevice\n"},
		}}
		c := NewController("adb", "", WithRunner(fake.run))

		require.NoError(t, c.Connect(context.Background()))
		assert.Equal(t, "B", c.Serial())
	})

	t.Run("adb not runnable", func(t *testing.T) {
		fake := &scriptedADB{failures: map[string]error{"devices": errors.New("exec: not found")}}
		c := NewController("adb", "R58M", WithRunner(fake.run))

		err := c.Connect(context.Background())
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrDeviceNotFound))
	})
}

func TestInputCommands(t *testing.T) {
	fake := &scriptedADB{responses: map[string][]string{}}
	c := NewController("adb", "R58M", WithRunner(fake.run))
	ctx := context.Background()

	require.NoError(t, c.Tap(ctx, 10, 20))
	require.NoError(t, c.Swipe(ctx, 1, 2, 300, 400, 250*time.Millisecond))
	require.NoError(t, c.Key(ctx, "back"))

	assert.Equal(t, []string{
		"-s R58M shell input tap 10 20",
		"-s R58M shell input swipe 1 2 300 400 250",
		"-s R58M shell input keyevent KEYCODE_BACK",
	}, fake.calls)
}

func TestAppCommands(t *testing.T) {
	fake := &scriptedADB{responses: map[string][]string{}}
	c := NewController("adb", "R58M", WithRunner(fake.run))
	ctx := context.Background()

	require.NoError(t, c.ForceStop(ctx, "com.netease.onmyoji"))
	require.NoError(t, c.StartApp(ctx, "com.netease.onmyoji", ""))
	require.NoError(t, c.StartApp(ctx, "com.netease.onmyoji", ".Client"))

	assert.Equal(t, []string{
		"-s R58M shell am force-stop com.netease.onmyoji",
		"-s R58M shell monkey -p com.netease.onmyoji -c android.intent.category.LAUNCHER 1",
		"-s R58M shell am start -n com.netease.onmyoji/.Client",
	}, fake.calls)
}

func TestInputErrorsAreTransient(t *testing.T) {
	fake := &scriptedADB{failures: map[string]error{
		"-s R58M shell input tap 1 1": errors.New("device offline"),
	}}
	c := NewController("adb", "R58M", WithRunner(fake.run))

	err := c.Tap(context.Background(), 1, 1)
	var inErr *InputError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, "tap", inErr.Op)
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(&DeviceError{Serial: "R58M"}))
}

func TestKeyCode(t *testing.T) {
	assert.Equal(t, "KEYCODE_BACK", KeyCode("back"))
	assert.Equal(t, "KEYCODE_HOME", KeyCode("KEYCODE_HOME"))
	assert.Equal(t, "4", KeyCode("4"))
}

func TestParseScreenSize(t *testing.T) {
	tests := []struct {
		name   string
		output string
		w, h   int
		ok     bool
	}{
		{"physical", "Physical size: 1280x720", 1280, 720, true},
		{"override wins", "Physical size: 1920x1080\nOverride size: 1280x720", 1280, 720, true},
		{"garbage", "error: closed", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := ParseScreenSize(tt.output)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.w, w)
			assert.Equal(t, tt.h, h)
		})
	}
}

func TestScreenshotPNG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 3))
	src.Set(2, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	fake := &scriptedADB{responses: map[string][]string{
		"-s R58M exec-out screencap -p": {buf.String()},
	}}
	c := NewController("adb", "R58M", WithRunner(fake.run))

	img, err := c.Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	r, _, _, _ := img.At(2, 1).RGBA()
	assert.Equal(t, uint32(200), r>>8)
}

func TestScreenshotFailures(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		fake := &scriptedADB{failures: map[string]error{
			"-s R58M exec-out screencap -p": errors.New("closed"),
		}}
		c := NewController("adb", "R58M", WithRunner(fake.run))

		_, err := c.Screenshot(context.Background())
		var capErr *CaptureError
		require.ErrorAs(t, err, &capErr)
		assert.True(t, IsTransient(err))
	})

	t.Run("undecodable", func(t *testing.T) {
		fake := &scriptedADB{responses: map[string][]string{
			"-s R58M exec-out screencap -p": {"not a png"},
		}}
		c := NewController("adb", "R58M", WithRunner(fake.run))

		_, err := c.Screenshot(context.Background())
		var capErr *CaptureError
		require.ErrorAs(t, err, &capErr)
	})
}

func TestDecodeRaw(t *testing.T) {
	for _, header := range []int{12, 16} {
		data := make([]byte, header+2*2*4)
		data[0], data[4], data[8] = 2, 2, 1
		// pixel (1,0) red
		data[header+4] = 255

		img, err := DecodeRaw(data)
		require.NoError(t, err, "header %d", header)
		assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
		r, g, _, a := img.At(1, 0).RGBA()
		assert.Equal(t, uint32(0xffff), r)
		assert.Equal(t, uint32(0), g)
		assert.Equal(t, uint32(0xffff), a)
	}

	_, err := DecodeRaw([]byte{1, 2, 3})
	assert.Error(t, err)

	bad := make([]byte, 12+3)
	bad[0], bad[4] = 2, 2
	_, err = DecodeRaw(bad)
	assert.Error(t, err)

	// w*h*4 overflows int for these sizes and must not reach the allocator.
	huge := make([]byte, 12)
	binary.LittleEndian.PutUint32(huge[0:4], 1<<31)
	binary.LittleEndian.PutUint32(huge[4:8], 1<<31)
	assert.NotPanics(t, func() {
		_, err = DecodeRaw(huge)
	})
	assert.ErrorContains(t, err, "invalid raw screencap size")

	tall := make([]byte, 12+16)
	binary.LittleEndian.PutUint32(tall[0:4], 1)
	binary.LittleEndian.PutUint32(tall[4:8], 1<<20)
	_, err = DecodeRaw(tall)
	assert.Error(t, err)
}
