package main

import (
	"context"
	"math"
	"sync"
)

// SimConfig holds the physical parameters of the simulated arm
type SimConfig struct {
	TicksPerRev     float64 `yaml:"ticks_per_rev"`
	ZeroOffsetTicks float64 `yaml:"zero_offset_ticks"`
	MotorGain       float64 `yaml:"motor_gain"`    // ticks/s² at full power
	Gravity         float64 `yaml:"gravity"`       // ticks/s² pulling down at horizontal
	Damping         float64 `yaml:"damping"`       // viscous damping, 1/s
	BrakeDamping    float64 `yaml:"brake_damping"` // extra damping at zero power with brake on, 1/s
	MinTicks        float64 `yaml:"min_ticks"`     // lower mechanical stop
	MaxTicks        float64 `yaml:"max_ticks"`     // upper mechanical stop
	StartTicks      float64 `yaml:"start_ticks"`
}

// DefaultSimConfig returns an arm that balances at horizontal with 0.3 power
func DefaultSimConfig() SimConfig {
	return SimConfig{
		TicksPerRev:     700,
		ZeroOffsetTicks: 50,
		MotorGain:       2000,
		Gravity:         600,
		Damping:         8,
		BrakeDamping:    40,
		MinTicks:        0,
		MaxTicks:        350,
	}
}

// BalancePower is the power that holds the arm still at horizontal
func (c SimConfig) BalancePower() float64 {
	if c.MotorGain == 0 {
		return 0
	}
	return c.Gravity / c.MotorGain
}

// SimMotor is a point mass arm on a DC motor. Time advances one control period per SetPower.
type SimMotor struct {
	mu     sync.Mutex
	cfg    SimConfig
	dt     float64
	pos    float64
	vel    float64
	power  float64
	brake  bool
	closed bool
}

// NewSimMotor creates a simulated arm resting at cfg.StartTicks
func NewSimMotor(cfg SimConfig, dt float64) *SimMotor {
	return &SimMotor{
		cfg: cfg,
		dt:  dt,
		pos: cfg.StartTicks,
	}
}

func (m *SimMotor) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brake = true
	return ctx.Err()
}

// Position returns the encoder reading, quantised to whole ticks
func (m *SimMotor) Position(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return math.Round(m.pos), nil
}

func (m *SimMotor) SetPower(ctx context.Context, power float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	m.power = max(-1, min(1, power))
	m.step()
	return nil
}

func (m *SimMotor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// step advances the simulation by one period with semi-implicit Euler
func (m *SimMotor) step() {
	angle := (m.pos - m.cfg.ZeroOffsetTicks) / m.cfg.TicksPerRev * 2 * math.Pi

	damping := m.cfg.Damping
	if m.brake && m.power == 0 {
		damping += m.cfg.BrakeDamping
	}

	accel := m.cfg.MotorGain*m.power - m.cfg.Gravity*math.Cos(angle) - damping*m.vel
	m.vel += accel * m.dt
	m.pos += m.vel * m.dt

	if m.pos <= m.cfg.MinTicks {
		m.pos = m.cfg.MinTicks
		m.vel = max(0, m.vel)
	}
	if m.pos >= m.cfg.MaxTicks {
		m.pos = m.cfg.MaxTicks
		m.vel = min(0, m.vel)
	}
}
