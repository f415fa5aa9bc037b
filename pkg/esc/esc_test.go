package esc

import (
	"math"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/tigerbot-team/tigerbot/escstick/pkg/hw"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/loop"
	"github.com/tigerbot-team/tigerbot/escstick/pkg/pca9685"
)

type testEnv struct {
	io      *hw.Fake
	sched   *loop.Manual
	drivers *pca9685.Drivers
	reg     *Registry
	logger  golog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithLogger(golog.NewTestLogger(t))
}

func newTestEnvWithLogger(logger golog.Logger) *testEnv {
	io := hw.NewFake(logger)
	return &testEnv{
		io:      io,
		sched:   loop.NewManual(),
		drivers: pca9685.NewDrivers(io, logger),
		reg:     NewRegistry(),
		logger:  logger,
	}
}

func (e *testEnv) IO() hw.IO { return e.io }
func (e *testEnv) Scheduler() loop.Scheduler { return e.sched }
func (e *testEnv) PCA9685() *pca9685.Drivers { return e.drivers }
func (e *testEnv) ESCs() *Registry { return e.reg }
func (e *testEnv) Logger() golog.Logger { return e.logger }

func (e *testEnv) pwmWrites() []float64 {
	var out []float64
	for _, op := range e.io.OpsOfKind("pwm") {
		out = append(out, op.Value)
	}
	return out
}

func mustNew(t *testing.T, env Env, cfg Config) *ESC {
	e, err := New(env, cfg)
	require.NoError(t, err)
	return e
}

func TestNewSetsServoMode(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 12})

	modes := env.io.OpsOfKind("mode")
	require.Len(t, modes, 1)
	assert.Equal(t, hw.Pin(12), modes[0].Pin)
	assert.Equal(t, hw.ModeServo, modes[0].Mode)

	assert.Equal(t, "esc-12", e.ID())
	assert.Equal(t, DefaultRange, e.Range())
	assert.Equal(t, Range{0, 180}, e.PWMRange())
	assert.Nil(t, e.Last())
	assert.False(t, e.Ramping())
	assert.Empty(t, env.pwmWrites())
}

func TestSpeedRampsOneUnitPerInterval(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 12})

	e.Speed(1)
	e.Speed(10)
	env.sched.Advance(120 * time.Millisecond)
	writes := env.pwmWrites()
	require.Len(t, writes, 10)
	// 10 * 180 / 100
	assert.Equal(t, 18.0, writes[len(writes)-1])
	assert.False(t, e.Ramping())

	env.io.Reset()
	e.Speed(9)
	env.sched.Advance(10 * time.Millisecond)
	writes = env.pwmWrites()
	require.Len(t, writes, 1)
	// 9 * 180 / 100, fractions are written as-is.
	assert.InDelta(t, 16.2, writes[0], 1e-9)

	env.io.Reset()
	e.Speed(12)
	env.sched.Advance(30 * time.Millisecond)
	writes = env.pwmWrites()
	require.Len(t, writes, 3)
	assert.InDelta(t, 21.6, writes[2], 1e-9)
}

func TestRampStepsAtInterval(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 3, Interval: 20 * time.Millisecond})
	e.Speed(0)
	e.Speed(5)
	assert.True(t, e.Ramping())

	env.sched.Advance(19 * time.Millisecond)
	assert.Equal(t, 0.0, e.Value())
	env.sched.Advance(1 * time.Millisecond)
	assert.Equal(t, 1.0, e.Value())
	assert.Equal(t, 5.0, e.Target())
	env.sched.Advance(80 * time.Millisecond)
	assert.Equal(t, 5.0, e.Value())
	assert.False(t, e.Ramping())
	assert.Equal(t, 0, env.sched.Pending())
}

func TestSpeedConstrainedToRange(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 12})

	e.Speed(1)
	e.Speed(1000)
	env.sched.Advance(time.Second)
	// 100 steps, not 1000
	assert.Len(t, env.pwmWrites(), 100)
	assert.Equal(t, 100.0, e.Value())

	e.Speed(-20)
	env.sched.Advance(2 * time.Second)
	assert.Equal(t, 0.0, e.Value())
	assert.Equal(t, 0.0, e.Last().Speed)
}

func TestSpeedConvergesToClampedTarget(t *testing.T) {
	for _, target := range []float64{0, 0.5, 1, 37, 37.25, 99.9, 100, 150, -3} {
		env := newTestEnv(t)
		e := mustNew(t, env, Config{Pin: 4, Range: Range{10, 90}, StartAt: Float(50)})
		e.Speed(target)
		env.sched.Advance(2 * time.Second)

		want := target
		if want < 10 {
			want = 10
		} else if want > 90 {
			want = 90
		}
		assert.Equal(t, want, e.Value(), "target %v", target)
		assert.Nil(t, e.Ramp(), "target %v", target)
	}
}

func TestSpeedClampsToCustomRange(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 12, Range: Range{50, 60}})

	e.Speed(40)
	// constrained to the lower range boundary
	assert.Equal(t, 50.0, e.Value())

	e.Speed(70)
	assert.Equal(t, 60.0, e.Last().Speed)
	env.sched.Advance(time.Second)
	// constrained to the upper range boundary
	assert.Equal(t, 60.0, e.Value())
}

func TestSpeedIgnoresDuplicateCommand(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 12})

	e.Speed(1)
	e.Speed(50)
	env.sched.Advance(10 * time.Millisecond)
	ramp := e.Ramp()
	require.NotNil(t, ramp)

	e.Speed(50)
	env.sched.Advance(10 * time.Millisecond)

	// When receiving a duplicate, the in-progress ramp is not interrupted.
	assert.Same(t, ramp, e.Ramp())
	assert.Equal(t, 3.0, e.Value())
}

func TestSpeedInterruptsRamp(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 12})

	e.Speed(1)
	e.Speed(50)
	env.sched.Advance(10 * time.Millisecond)
	ramp := e.Ramp()
	require.NotNil(t, ramp)

	e.Speed(60)
	env.sched.Advance(10 * time.Millisecond)

	// When receiving a unique speed, the in-progress ramp is replaced.
	assert.NotSame(t, ramp, e.Ramp())
	assert.True(t, ramp.Stopped())
	assert.Equal(t, 1, env.sched.Pending())
}

func TestSpeedReversesMidRampWithoutInterleaving(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 12})

	e.Speed(0)
	e.Speed(10)
	env.sched.Advance(30 * time.Millisecond)
	assert.Equal(t, 3.0, e.Value())

	e.Speed(0)
	env.io.Reset()
	env.sched.Advance(time.Second)
	// Only the new ramp writes: 2, 1, 0.
	assert.Equal(t, []float64{3.6, 1.8, 0}, env.pwmWrites())
}

func TestSpeedIdleDuplicateIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 12})
	e.Speed(5)
	env.io.Reset()
	e.Speed(5)
	env.sched.Advance(time.Second)
	assert.Empty(t, env.pwmWrites())
}

func TestSpeedIgnoresNaN(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 12})
	e.Speed(0)
	e.Speed(20)
	env.sched.Advance(50 * time.Millisecond)
	ramp := e.Ramp()
	require.NotNil(t, ramp)

	e.Speed(math.NaN())
	assert.Same(t, ramp, e.Ramp())
	assert.Equal(t, 20.0, e.Target())
	env.sched.Advance(time.Second)
	assert.False(t, e.Ramping())
	assert.Equal(t, 20.0, e.Value())

	env.io.Reset()
	e.Speed(math.NaN())
	env.sched.Advance(time.Second)
	assert.Empty(t, env.pwmWrites())
	assert.Equal(t, 20.0, e.Last().Speed)
	assert.Equal(t, 0, env.sched.Pending())
}

func TestBailoutAndAccelerateDecelerate(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 12})

	e.Speed(1)
	e.Speed(10)
	env.sched.Advance(100 * time.Millisecond)
	assert.Equal(t, 10.0, e.Last().Speed)
	assert.Len(t, env.pwmWrites(), 10)

	e.Speed(0)
	env.sched.Advance(100 * time.Millisecond)
	assert.Equal(t, 0.0, e.Last().Speed)
	assert.Equal(t, 0.0, e.Last().Value)
	assert.Len(t, env.pwmWrites(), 20)
}

func TestStartAt(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 12, StartAt: Float(1)})
	require.NotNil(t, e.Last())
	assert.Equal(t, 1.0, e.Last().Speed)

	env.sched.Advance(10 * time.Millisecond)
	assert.Len(t, env.pwmWrites(), 1)
}

func TestStopHoldsCurrentValue(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 12})
	e.Speed(0)
	e.Speed(20)
	env.sched.Advance(50 * time.Millisecond)
	e.Stop()
	assert.False(t, e.Ramping())
	assert.Equal(t, 5.0, e.Value())
	assert.Equal(t, 5.0, e.Target())

	env.sched.Advance(time.Second)
	assert.Equal(t, 5.0, e.Value())

	// The abandoned target is no longer a duplicate.
	e.Speed(20)
	assert.True(t, e.Ramping())
}

func TestWriteFailuresAreLogged(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)
	env := newTestEnvWithLogger(logger)
	e := mustNew(t, env, Config{Pin: 12})

	env.io.Err = errors.New("pin gone")
	e.Speed(0)
	e.Speed(3)
	env.sched.Advance(time.Second)

	assert.Equal(t, 3.0, e.Value(), "ramp keeps going after a failed write")
	warnings := logs.FilterLevelExact(zapcore.WarnLevel)
	assert.Equal(t, 4, warnings.FilterMessage("failed to write ESC value").Len())
}

func TestPCA9685(t *testing.T) {
	env := newTestEnv(t)
	e := mustNew(t, env, Config{Pin: 0, Controller: PCA9685, Address: 0x40})
	_, ok := env.drivers.Lookup(0x40)
	require.True(t, ok)
	assert.Equal(t, Range{pca9685.PulseMin, pca9685.PulseMax}, e.PWMRange())
	assert.Empty(t, env.io.OpsOfKind("mode"))

	env.io.Reset()
	e.Speed(10)
	env.sched.Advance(time.Millisecond)

	writes := env.io.OpsOfKind("i2c-write")
	require.NotEmpty(t, writes)
	assert.Equal(t, uint8(0x40), writes[0].Addr)
	assert.Equal(t, []byte{6, 0, 0, 182, 0}, writes[0].Data)
}

func TestPCA9685DefaultAddressAndSharedDriver(t *testing.T) {
	env := newTestEnv(t)
	mustNew(t, env, Config{Pin: 0, Controller: PCA9685})
	_, ok := env.drivers.Lookup(pca9685.DefaultAddr)
	require.True(t, ok)
	configWrites := len(env.io.OpsOfKind("i2c-write"))

	b := mustNew(t, env, Config{Pin: 3, Controller: PCA9685})
	assert.Len(t, env.io.OpsOfKind("i2c-write"), configWrites)

	b.Speed(100)
	writes := env.io.OpsOfKind("i2c-write")
	last := writes[len(writes)-1]
	// 2400us / 4 = 600 ticks on channel 3.
	assert.Equal(t, []byte{6 + 3*4, 0, 0, 0x58, 0x02}, last.Data)
}

func TestPCA9685RejectsBadChannel(t *testing.T) {
	env := newTestEnv(t)
	_, err := New(env, Config{Pin: 16, Controller: PCA9685})
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, 0, env.reg.Len())
}

func TestConfigurationErrors(t *testing.T) {
	for _, cfg := range []Config{
		{Pin: 11, Device: ForwardReverse},
		{Pin: 11, Range: Range{60, 50}},
		{Pin: 11, PWMRange: Range{2000, 1000}},
		{Pin: 11, Interval: -time.Millisecond},
		{Pin: 11, Device: ForwardReverse, Neutral: Float(120)},
		{Pin: 11, Controller: Controller(9)},
		{Pin: 11, Device: Device(9)},
	} {
		env := newTestEnv(t)
		_, err := New(env, cfg)
		var cfgErr *ConfigurationError
		assert.True(t, errors.As(err, &cfgErr), "config %+v returned %v", cfg, err)
	}
}

func TestParseNames(t *testing.T) {
	c, err := ParseController("pca9685")
	require.NoError(t, err)
	assert.Equal(t, PCA9685, c)
	c, err = ParseController("")
	require.NoError(t, err)
	assert.Equal(t, Default, c)
	_, err = ParseController("servo")
	assert.EqualError(t, err, `unknown ESC controller "servo"`)

	d, err := ParseDevice("forward_reverse")
	require.NoError(t, err)
	assert.Equal(t, ForwardReverse, d)
	assert.Equal(t, "FORWARD_REVERSE", d.String())
	_, err = ParseDevice("sideways")
	assert.EqualError(t, err, `unknown ESC device "sideways"`)
}
