package arm

import (
	"fmt"
	"math"
)

// Mode is the control mode of the arm. Exactly one is active at a time.
type Mode int

const (
	Stopped Mode = iota
	Holding
	MovingAuto
	MovingManual
)

var modeNames = map[Mode]string{
	Stopped:      "stopped",
	Holding:      "holding",
	MovingAuto:   "moving_auto",
	MovingManual: "moving_manual",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Status is a snapshot of the arm after the most recent step
type Status struct {
	Mode     Mode
	Target   float64
	Position float64
	Output   float64
	Power    float64 // manual power, only applied while MovingManual
	AtTarget bool
}

// Arm is the control state machine for one arm.
// It is not safe for concurrent use: the host must call Tick and the commands from one
// goroutine, one cycle at a time.
type Arm struct {
	tuning     *Tuning
	controller *PositionController

	mode     Mode
	power    float64 // manual power, already clamped
	position float64 // last sensed position handed to Tick or Hold
	output   float64
}

// New creates an arm in the Stopped mode
func New(tuning *Tuning) *Arm {
	return &Arm{
		tuning:     tuning,
		controller: NewPositionController(tuning),
		mode:       Stopped,
	}
}

// SetManualPower drives the arm open loop with power clamped to [-1, 1]
func (a *Arm) SetManualPower(power float64) {
	a.power = clamp(power, 1)
	a.mode = MovingManual
}

// MoveTo starts a closed loop move towards target
func (a *Arm) MoveTo(target float64) {
	a.controller.SetTarget(target)
	a.mode = MovingAuto
}

// Hold pins the arm at position, which must be the current sensed position.
// The target only ever changes on entry to Holding, so the arm cannot drift.
func (a *Arm) Hold(position float64) {
	a.controller.SetTarget(position)
	a.position = position
	a.mode = Holding
}

// Stop cuts power. The controller target is left stale; MoveTo and Hold both set a fresh one.
func (a *Arm) Stop() {
	a.mode = Stopped
}

// Tick runs one control cycle for the sensed position and returns the drive power.
// position must be finite.
func (a *Arm) Tick(position float64) float64 {
	a.position = position
	a.output = a.step(position)
	return a.output
}

func (a *Arm) step(position float64) float64 {
	cfg := a.tuning.Config()

	switch a.mode {
	case MovingManual:
		return a.power

	case Holding:
		// Settled: feedforward only. The next correction out of the band starts with no history.
		if math.Abs(a.controller.Target()-position) <= cfg.SettledBand {
			a.controller.Reset()
			return clamp(cfg.Feedforward.Output(position), cfg.OutputLimit)
		}
		return a.controller.Update(position)

	case MovingAuto:
		// Arrived: hold where the arm actually is, not where it was sent
		if math.Abs(a.controller.Target()-position) <= cfg.Tolerance {
			a.controller.SetTarget(position)
			a.mode = Holding
			return clamp(cfg.Feedforward.Output(position), cfg.OutputLimit)
		}
		return a.controller.Update(position)

	default:
		return 0
	}
}

// Mode returns the active control mode
func (a *Arm) Mode() Mode {
	return a.mode
}

// Target returns the controller target. It is stale while Stopped or MovingManual.
func (a *Arm) Target() float64 {
	return a.controller.Target()
}

// Position returns the last sensed position given to Tick or Hold
func (a *Arm) Position() float64 {
	return a.position
}

// Power returns the stored manual power
func (a *Arm) Power() float64 {
	return a.power
}

// AtTarget reports whether the last sensed position is within the completion tolerance.
// It is only meaningful while MovingAuto or Holding and is false otherwise.
func (a *Arm) AtTarget() bool {
	if a.mode != MovingAuto && a.mode != Holding {
		return false
	}
	return math.Abs(a.controller.Target()-a.position) <= a.tuning.Config().Tolerance
}

// Snapshot returns the state of the arm after the last step
func (a *Arm) Snapshot() Status {
	return Status{
		Mode:     a.mode,
		Target:   a.controller.Target(),
		Position: a.position,
		Output:   a.output,
		Power:    a.Power(),
		AtTarget: a.AtTarget(),
	}
}
