package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/board"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/esc"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/joystick"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/loop"
)

const sample = `
i2c_bus: /dev/i2c-3
adc_address: 0x49
escs:
  - id: left
    pin: 0
    controller: pca9685
    address: 0x40
    device: FORWARD_REVERSE
    neutral: 50
    range: [0, 100]
    pwm_range: [544, 2400]
    interval: 20ms
    start_at: 50
  - id: right
    pin: 6
joysticks:
  - id: stick
    controller: ANALOG
    pins: [0, 1]
    zero: [-4, 2]
  - id: pad
    controller: gamepad
    axes: [3, 4]
`

func newTestBoard(t *testing.T) (*board.Board, *hw.Fake) {
	fake := hw.NewFake(nil)
	return board.New(fake, loop.NewManual(), golog.NewTestLogger(t)), fake
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "/dev/i2c-3", c.I2CBus)
	assert.EqualValues(t, 0x49, c.ADCAddress)
	require.Len(t, c.ESCs, 2)
	require.Len(t, c.Joysticks, 2)

	left, err := c.ESCs[0].Config()
	require.NoError(t, err)
	assert.Equal(t, "left", left.ID)
	assert.Equal(t, esc.PCA9685, left.Controller)
	assert.Equal(t, esc.ForwardReverse, left.Device)
	assert.EqualValues(t, 0x40, left.Address)
	assert.Equal(t, esc.Range{544, 2400}, left.PWMRange)
	assert.Equal(t, 20*time.Millisecond, left.Interval)
	require.NotNil(t, left.Neutral)
	assert.Equal(t, 50.0, *left.Neutral)

	right, err := c.ESCs[1].Config()
	require.NoError(t, err)
	assert.Equal(t, esc.Default, right.Controller)
	assert.Equal(t, esc.Unidirectional, right.Device)
	assert.True(t, right.Range.IsZero())
	assert.Nil(t, right.StartAt)

	stick, err := c.Joysticks[0].Config()
	require.NoError(t, err)
	assert.Equal(t, joystick.Analog, stick.Controller)
	assert.Equal(t, [2]hw.Pin{0, 1}, stick.Pins)
	assert.Equal(t, [2]float64{-4, 2}, stick.Zero)

	pad, err := c.Joysticks[1].Config()
	require.NoError(t, err)
	assert.Equal(t, joystick.Gamepad, pad.Controller)
	assert.Equal(t, [2]uint8{3, 4}, pad.Axes)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("escs:\n  - pin: 1\n    speed: 4\n"))
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	data, err := c.Marshal()
	require.NoError(t, err)
	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, c, again)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escstick.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.ESCs, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBadValues(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
	}{
		{"controller", "escs:\n  - pin: 1\n    controller: L298\n"},
		{"device", "escs:\n  - pin: 1\n    device: SIDEWAYS\n"},
		{"range", "escs:\n  - pin: 1\n    range: [1, 2, 3]\n"},
		{"joystick pins", "joysticks:\n  - pins: [1]\n"},
		{"analog without pins", "joysticks:\n  - controller: analog\n"},
		{"joystick controller", "joysticks:\n  - controller: wii\n"},
		{"zero", "joysticks:\n  - pins: [0, 1]\n    zero: [1]\n"},
		{"neutral missing", "escs:\n  - pin: 1\n    device: FORWARD_REVERSE\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Parse([]byte(tc.yaml))
			require.NoError(t, err)
			b, _ := newTestBoard(t)
			_, err = Build(b, c)
			assert.Error(t, err)
		})
	}
}

func TestBuild(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	c.Joysticks = c.Joysticks[:1]
	b, fake := newTestBoard(t)

	d, err := Build(b, c)
	require.NoError(t, err)
	assert.Equal(t, "2 ESCs, 1 joysticks", d.String())
	assert.Equal(t, 2, b.ESCs().Len())

	left, ok := d.ESC("left")
	require.True(t, ok)
	assert.Equal(t, 50.0, left.Value())
	_, ok = d.ESC("middle")
	assert.False(t, ok)

	// start_at 50 on a PCA9685 writes 1472us straight away: 1472/4 = 368 = 0x170.
	writes := fake.OpsOfKind("i2c-write")
	require.NotEmpty(t, writes)
	assert.Equal(t, []byte{6, 0, 0, 0x70, 0x01}, writes[len(writes)-1].Data)

	stick, ok := d.Joystick("stick")
	require.True(t, ok)
	assert.Equal(t, 1, fake.Readers(0))
	fake.EmitAnalog(0, 508)
	fake.EmitAnalog(1, 510)
	assert.Equal(t, joystick.Sample{512, 512}, stick.Raw())

	require.NoError(t, b.Shutdown())
	assert.Equal(t, 0, fake.Readers(0))
}

func TestBuildEsploraSharedPin(t *testing.T) {
	c, err := Parse([]byte("joysticks:\n  - id: esp\n    controller: esplora\n    shared_pin: 2\n"))
	require.NoError(t, err)
	b, fake := newTestBoard(t)

	d, err := Build(b, c)
	require.NoError(t, err)
	_, ok := d.Joystick("esp")
	require.True(t, ok)
	assert.Equal(t, 1, fake.Readers(2))
	assert.Equal(t, 0, fake.Readers(joystick.EsploraPin))
	require.NoError(t, b.Shutdown())
}

func TestBuildClosesJoysticksOnError(t *testing.T) {
	c, err := Parse([]byte("joysticks:\n  - pins: [0, 1]\n  - controller: wii\n"))
	require.NoError(t, err)
	b, fake := newTestBoard(t)
	_, err = Build(b, c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "joysticks[1]")
	assert.Equal(t, 0, fake.Readers(0))
}

func TestEnv(t *testing.T) {
	t.Setenv("ESCSTICK_I2C_BUS", "/dev/i2c-7")
	t.Setenv("ESCSTICK_DUMMY", "true")
	t.Setenv("JOYSTICK_DEVICE", "/dev/input/js2")

	e, err := ParseEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultPath, e.ConfigPath)
	assert.True(t, e.Dummy)

	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	c.ApplyEnv(e)
	assert.Equal(t, "/dev/i2c-7", c.I2CBus)
	assert.Equal(t, "/dev/input/js2", c.Joysticks[1].Device)

	opts := c.BoardOptions(e.Dummy)
	assert.True(t, opts.Dummy)
	assert.Equal(t, "/dev/i2c-7", opts.Hardware.I2CBus)
	assert.EqualValues(t, 0x49, opts.Hardware.ADCAddress)
}
