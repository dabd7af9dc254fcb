// Package arm implements the control core for a single pivoting arm working against gravity.
//
// The core never touches hardware. The host reads the encoder, calls Arm.Tick once per
// control cycle and applies the returned power to the motor.
package arm

import "math"

// FeedforwardParams describes the arm geometry used for gravity compensation
type FeedforwardParams struct {
	TicksPerRev     float64 `yaml:"ticks_per_rev"`     // Encoder ticks per full revolution of the arm
	ZeroOffsetTicks float64 `yaml:"zero_offset_ticks"` // Ticks from the mechanical zero to true horizontal
	Scale           float64 `yaml:"scale"`             // Power needed to hold the arm at horizontal
}

// Angle returns the arm angle in degrees relative to true horizontal.
// The encoder zero sits below horizontal, so the offset is removed first.
func (p FeedforwardParams) Angle(position float64) float64 {
	if p.TicksPerRev <= 0 {
		return 0
	}
	return (position - p.ZeroOffsetTicks) / p.TicksPerRev * 360.0
}

// Output returns the power that balances gravity at position.
// Gravity torque follows m*g*(L/2)*cos(angle): largest at horizontal, zero at vertical.
func (p FeedforwardParams) Output(position float64) float64 {
	if p.TicksPerRev <= 0 {
		return 0
	}
	radians := p.Angle(position) * math.Pi / 180.0
	return math.Cos(radians) * p.Scale
}
