package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ryansname/armctl/src/arm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsole() (*ConsoleState, chan Command, *bytes.Buffer) {
	commands := make(chan Command, 4)
	out := &bytes.Buffer{}
	return NewConsoleState(DefaultLevels(), arm.NewTuning(arm.DefaultConfig()), commands, out), commands, out
}

func TestConsole_ForwardsArmCommands(t *testing.T) {
	state, commands, _ := newTestConsole()

	handleConsoleCommand(context.Background(), "move top", state, nil)
	cmd := <-commands
	assert.Equal(t, CommandMove, cmd.Kind)
	assert.Equal(t, 76.0, cmd.Value)
	assert.Equal(t, "console", cmd.Source)

	handleConsoleCommand(context.Background(), "stop", state, nil)
	assert.Equal(t, CommandStop, (<-commands).Kind)
}

func TestConsole_BadCommandNotForwarded(t *testing.T) {
	state, commands, _ := newTestConsole()

	handleConsoleCommand(context.Background(), "power lots", state, nil)
	assert.Empty(t, commands)
}

func TestConsole_Status(t *testing.T) {
	state, _, out := newTestConsole()

	handleConsoleCommand(context.Background(), "status", state, nil)
	assert.Contains(t, out.String(), "No status received yet")

	out.Reset()
	state.UpdateStatus(ArmStatus{Mode: arm.Holding, Position: 51, Target: 51, Output: 0.93, AtTarget: true})
	handleConsoleCommand(context.Background(), "status", state, nil)
	assert.Equal(t, "mode=holding position=51 target=51 output=0.930 at_target=true\n", out.String())

	out.Reset()
	state.UpdateStatus(ArmStatus{Mode: arm.MovingManual, Position: 60, Power: 0.4, Output: 0.4})
	handleConsoleCommand(context.Background(), "status", state, nil)
	assert.Equal(t, "mode=moving_manual position=60 power=0.400 output=0.400\n", out.String())
}

func TestConsole_LevelsInOrder(t *testing.T) {
	state, _, out := newTestConsole()

	handleConsoleCommand(context.Background(), "levels", state, nil)
	s := out.String()
	assert.Less(t, bytes.Index([]byte(s), []byte("down")), bytes.Index([]byte(s), []byte("top")))
}

func TestConsole_GotoWaitsForHolding(t *testing.T) {
	state, commands, out := newTestConsole()
	statuses := make(chan ArmStatus, 3)
	statuses <- ArmStatus{Mode: arm.MovingAuto, Target: 51, Position: 20}
	statuses <- ArmStatus{Mode: arm.Holding, Target: 12, Position: 12}
	statuses <- ArmStatus{Mode: arm.Holding, Target: 48, Position: 48}

	handleConsoleCommand(context.Background(), "goto middle", state, statuses)

	cmd := <-commands
	assert.Equal(t, CommandMove, cmd.Kind)
	assert.Equal(t, 51.0, cmd.Value)
	assert.Contains(t, out.String(), "Holding at 48 (middle)")
}

func TestAwaitHolding_TimesOut(t *testing.T) {
	statuses := make(chan ArmStatus, 1)
	statuses <- ArmStatus{Mode: arm.MovingAuto, Target: 76}

	_, err := awaitHolding(context.Background(), statuses, 76, 7, 20*time.Millisecond)
	assert.ErrorIs(t, err, errGotoTimeout)
}

func TestAwaitHolding_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := awaitHolding(ctx, make(chan ArmStatus), 76, 7, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
