package arm

import (
	"math"
	"time"
)

// PositionController is a PID position controller with a gravity feedforward term.
// Gains, feedforward parameters and output bounds are read from Tuning on every update.
type PositionController struct {
	tuning *Tuning
	now    func() time.Time

	target     float64
	errorSum   float64
	lastError  float64
	lastUpdate time.Time // zero until the first update after a target change
	measured   bool      // lastError holds a real measurement
}

// NewPositionController creates a controller that reads its config from tuning
func NewPositionController(tuning *Tuning) *PositionController {
	return &PositionController{
		tuning: tuning,
		now:    time.Now,
	}
}

// SetTarget changes the target position and clears the integral and derivative history.
func (c *PositionController) SetTarget(position float64) {
	c.target = position
	c.Reset()
}

// Target returns the current target position
func (c *PositionController) Target() float64 {
	return c.target
}

// Reset clears the accumulated integral and the derivative time base
func (c *PositionController) Reset() {
	c.errorSum = 0
	c.lastError = 0
	c.lastUpdate = time.Time{}
	c.measured = false
}

// AtTarget reports whether the most recent update was within the completion tolerance.
// It is false until Update has been called for the current target.
func (c *PositionController) AtTarget() bool {
	if !c.measured {
		return false
	}
	return math.Abs(c.lastError) <= c.tuning.Config().Tolerance
}

// Update returns the clamped drive power for the sensed position.
// The feedforward term is added even at the target.
func (c *PositionController) Update(position float64) float64 {
	cfg := c.tuning.Config()
	now := c.now()
	err := c.target - position

	var derivative float64
	if !c.lastUpdate.IsZero() {
		if dt := now.Sub(c.lastUpdate).Seconds(); dt > 0 {
			// Trapezoidal integration
			c.errorSum += 0.5 * (err + c.lastError) * dt
			derivative = (err - c.lastError) / dt
		}
	}

	c.lastError = err
	c.lastUpdate = now
	c.measured = true

	output := cfg.Gains.Kp*err +
		cfg.Gains.Ki*c.errorSum +
		cfg.Gains.Kd*derivative +
		cfg.Feedforward.Output(position)

	return clamp(output, cfg.OutputLimit)
}

// clamp limits v to [-limit, limit]. NaN becomes 0 so the motor is never commanded with it.
func clamp(v, limit float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return max(-limit, min(limit, v))
}
