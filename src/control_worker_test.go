package main

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ryansname/armctl/src/arm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMotor struct {
	mu        sync.Mutex
	pos       float64
	readErr   error
	initCalls int
	powers    []float64
}

func (m *fakeMotor) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCalls++
	return nil
}

func (m *fakeMotor) Position(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return 0, m.readErr
	}
	return m.pos, nil
}

func (m *fakeMotor) SetPower(ctx context.Context, power float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.powers = append(m.powers, power)
	return nil
}

func (m *fakeMotor) Close() error { return nil }

func (m *fakeMotor) set(pos float64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = pos
	m.readErr = err
}

func (m *fakeMotor) lastPower() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.powers) == 0 {
		return math.NaN()
	}
	return m.powers[len(m.powers)-1]
}

// panickingMotor panics on every encoder read
type panickingMotor struct {
	fakeMotor
}

func (m *panickingMotor) Position(ctx context.Context) (float64, error) {
	panic("encoder driver bug")
}

func newTestDriver(pos float64) (*driver, *fakeMotor) {
	motor := &fakeMotor{pos: pos}
	tuning := arm.NewTuning(arm.DefaultConfig())
	return newDriver(motor, arm.New(tuning), tuning), motor
}

func TestDriver_InitOnFirstTickOnly(t *testing.T) {
	d, motor := newTestDriver(50)
	ctx := context.Background()

	require.NoError(t, d.tick(ctx))
	require.NoError(t, d.tick(ctx))

	assert.Equal(t, 1, motor.initCalls)
	assert.Equal(t, []float64{0, 0}, motor.powers)
}

func TestDriver_HoldUsesFreshRead(t *testing.T) {
	d, motor := newTestDriver(50)
	ctx := context.Background()
	require.NoError(t, d.tick(ctx))

	motor.set(60, nil)
	require.NoError(t, d.apply(ctx, Command{Kind: CommandHold}))

	assert.Equal(t, arm.Holding, d.arm.Mode())
	assert.Equal(t, 60.0, d.arm.Target())
}

func TestDriver_HoldFallsBackToLastGoodRead(t *testing.T) {
	d, motor := newTestDriver(50)
	ctx := context.Background()
	require.NoError(t, d.tick(ctx))

	motor.set(0, errors.New("timeout"))
	require.NoError(t, d.apply(ctx, Command{Kind: CommandHold}))
	assert.Equal(t, 50.0, d.arm.Target())
}

func TestDriver_HoldWithoutAnyReadFails(t *testing.T) {
	d, motor := newTestDriver(50)
	motor.set(0, errors.New("timeout"))

	err := d.apply(context.Background(), Command{Kind: CommandHold})
	assert.ErrorIs(t, err, errNoPosition)
	assert.Equal(t, arm.Stopped, d.arm.Mode())
}

func TestDriver_HoldingAtHorizontalOutputsFeedforward(t *testing.T) {
	d, _ := newTestDriver(50)
	ctx := context.Background()

	require.NoError(t, d.apply(ctx, Command{Kind: CommandHold}))
	require.NoError(t, d.tick(ctx))

	// Full feedforward at horizontal, clamped to the output limit
	assert.InDelta(t, 0.8, d.status().Output, 1e-9)
}

func TestDriver_NonFiniteReadSkipsCycle(t *testing.T) {
	d, motor := newTestDriver(50)
	ctx := context.Background()
	require.NoError(t, d.apply(ctx, Command{Kind: CommandPower, Value: 0.5}))

	motor.set(math.NaN(), nil)
	assert.Error(t, d.tick(ctx))
	assert.Empty(t, motor.powers)
	assert.Equal(t, arm.MovingManual, d.arm.Mode())
}

func TestDriver_StopsAfterMissedReads(t *testing.T) {
	d, motor := newTestDriver(50)
	ctx := context.Background()
	require.NoError(t, d.apply(ctx, Command{Kind: CommandPower, Value: 0.5}))
	require.NoError(t, d.tick(ctx))
	assert.Equal(t, 0.5, motor.lastPower())

	motor.set(0, errors.New("timeout"))
	for n := 0; n < maxMissedReads-1; n++ {
		assert.Error(t, d.tick(ctx))
	}
	assert.Equal(t, arm.MovingManual, d.arm.Mode())

	assert.Error(t, d.tick(ctx))
	assert.Equal(t, arm.Stopped, d.arm.Mode())
	assert.Equal(t, 0.0, motor.lastPower())
}

func TestDriver_GoodReadResetsMissCount(t *testing.T) {
	d, motor := newTestDriver(50)
	ctx := context.Background()
	require.NoError(t, d.apply(ctx, Command{Kind: CommandPower, Value: 0.5}))

	motor.set(0, errors.New("timeout"))
	for n := 0; n < maxMissedReads-1; n++ {
		_ = d.tick(ctx)
	}
	motor.set(50, nil)
	require.NoError(t, d.tick(ctx))

	motor.set(0, errors.New("timeout"))
	_ = d.tick(ctx)
	assert.Equal(t, arm.MovingManual, d.arm.Mode())
}

func TestDriver_TuneUpdatesLiveConfig(t *testing.T) {
	d, _ := newTestDriver(50)
	ctx := context.Background()

	require.NoError(t, d.apply(ctx, Command{Kind: CommandTune, Param: "kp", Value: 0.05}))
	assert.Equal(t, 0.05, d.tuning.Config().Gains.Kp)

	err := d.apply(ctx, Command{Kind: CommandTune, Param: "limit", Value: 2})
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)
	assert.Equal(t, 0.8, d.tuning.Config().OutputLimit)
}

func TestDriver_ShutdownCutsPowerOnce(t *testing.T) {
	d, motor := newTestDriver(50)
	require.NoError(t, d.apply(context.Background(), Command{Kind: CommandPower, Value: 0.5}))

	d.shutdown()
	d.shutdown()

	assert.Equal(t, []float64{0}, motor.powers)
	assert.Equal(t, arm.Stopped, d.arm.Mode())
	select {
	case <-d.Stopped():
	default:
		t.Fatal("stopped channel not closed")
	}
}

func TestControlWorker_PanicCutsPowerAndRepanics(t *testing.T) {
	motor := &panickingMotor{}
	tuning := arm.NewTuning(arm.DefaultConfig())
	d := newDriver(motor, arm.New(tuning), tuning)
	d.arm.SetManualPower(0.5)

	recovered := make(chan any, 1)
	go func() {
		defer func() { recovered <- recover() }()
		controlWorker(context.Background(), d, time.Millisecond, make(chan Command), make(chan ArmStatus, 1))
	}()

	select {
	case r := <-recovered:
		assert.Equal(t, "encoder driver bug", r)
	case <-time.After(5 * time.Second):
		t.Fatal("control worker did not panic")
	}

	assert.Equal(t, []float64{0}, motor.powers)
	assert.Equal(t, arm.Stopped, d.arm.Mode())
	select {
	case <-d.Stopped():
		t.Fatal("panic must leave shutdown to the restarted worker")
	default:
	}

	// A later shutdown still runs
	d.shutdown()
	<-d.Stopped()
}

func TestAwaitPowerCut_WorkerStopped(t *testing.T) {
	motor := &fakeMotor{}
	stopped := make(chan struct{})
	close(stopped)

	assert.True(t, awaitPowerCut(stopped, motor, time.Second))
	assert.Empty(t, motor.powers)
}

func TestAwaitPowerCut_CutsMotorOnTimeout(t *testing.T) {
	motor := &fakeMotor{}

	assert.False(t, awaitPowerCut(make(chan struct{}), motor, 10*time.Millisecond))
	assert.Equal(t, []float64{0}, motor.powers)
}

func TestSendLatest_DropsOldest(t *testing.T) {
	ch := make(chan int, 2)
	sendLatest(ch, 1)
	sendLatest(ch, 2)
	sendLatest(ch, 3)

	assert.Equal(t, 2, <-ch)
	assert.Equal(t, 3, <-ch)
}

func TestControlWorker_MovesSimulatedArm(t *testing.T) {
	simCfg := DefaultSimConfig()
	sim := NewSimMotor(simCfg, 0.02)
	cfg := arm.DefaultConfig()
	cfg.Feedforward.Scale = simCfg.BalancePower()
	tuning := arm.NewTuning(cfg)
	d := newDriver(sim, arm.New(tuning), tuning)

	ctx, cancel := context.WithCancel(context.Background())
	commands := make(chan Command, 1)
	statuses := make(chan ArmStatus, 1)
	done := make(chan struct{})
	go func() {
		controlWorker(ctx, d, time.Millisecond, commands, statuses)
		close(done)
	}()

	commands <- Command{Kind: CommandMove, Value: 76, Source: "test"}

	deadline := time.After(10 * time.Second)
	for reached := false; !reached; {
		select {
		case s := <-statuses:
			// Completion pins the target to the sensed position inside the tolerance
			reached = s.Mode == arm.Holding && math.Abs(s.Target-76) <= 7
		case <-deadline:
			t.Fatal("arm did not reach the top level")
		}
	}

	cancel()
	<-done
	<-d.Stopped()
}
