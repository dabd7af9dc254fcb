package arm

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrInvalidConfig is returned when a Config fails validation
var ErrInvalidConfig = errors.New("invalid arm config")

// Gains holds the feedback coefficients of the position controller
type Gains struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

// Config holds every tunable value of the arm controller.
// It is read fresh on every control step via Tuning, so changes apply on the next tick.
type Config struct {
	Gains       Gains             `yaml:"gains"`
	Feedforward FeedforwardParams `yaml:"feedforward"`
	OutputLimit float64           `yaml:"output_limit"` // Output is clamped to [-OutputLimit, OutputLimit]
	Tolerance   float64           `yaml:"tolerance"`    // Ticks from target at which an auto move completes
	SettledBand float64           `yaml:"settled_band"` // Ticks from target within which holding is pure feedforward
}

// DefaultConfig returns the configuration the arm was originally tuned with.
// Scale is uncalibrated.
func DefaultConfig() Config {
	return Config{
		Gains: Gains{Kp: 0.02},
		Feedforward: FeedforwardParams{
			TicksPerRev:     700,
			ZeroOffsetTicks: 50,
			Scale:           1.0,
		},
		OutputLimit: 0.8,
		Tolerance:   7,
		SettledBand: 8,
	}
}

// Validate checks that the config can drive the arm safely
func (c Config) Validate() error {
	values := map[string]float64{
		"kp":                c.Gains.Kp,
		"ki":                c.Gains.Ki,
		"kd":                c.Gains.Kd,
		"ticks_per_rev":     c.Feedforward.TicksPerRev,
		"zero_offset_ticks": c.Feedforward.ZeroOffsetTicks,
		"scale":             c.Feedforward.Scale,
		"output_limit":      c.OutputLimit,
		"tolerance":         c.Tolerance,
		"settled_band":      c.SettledBand,
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidConfig, name)
		}
	}

	switch {
	case c.Feedforward.TicksPerRev <= 0:
		return fmt.Errorf("%w: ticks_per_rev must be positive, got %v", ErrInvalidConfig, c.Feedforward.TicksPerRev)
	case c.OutputLimit <= 0 || c.OutputLimit > 1:
		return fmt.Errorf("%w: output_limit must be in (0, 1], got %v", ErrInvalidConfig, c.OutputLimit)
	case c.Tolerance < 0:
		return fmt.Errorf("%w: tolerance must not be negative, got %v", ErrInvalidConfig, c.Tolerance)
	case c.SettledBand < 0:
		return fmt.Errorf("%w: settled_band must not be negative, got %v", ErrInvalidConfig, c.SettledBand)
	}
	return nil
}

// Tuning holds the live Config shared between the control loop and whatever tunes it.
// Readers always get a copy; writers replace the whole config atomically.
type Tuning struct {
	mu  sync.RWMutex
	cfg Config
}

// NewTuning creates a Tuning holding cfg. The caller is expected to have validated cfg.
func NewTuning(cfg Config) *Tuning {
	return &Tuning{cfg: cfg}
}

// Config returns a copy of the current config
func (t *Tuning) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// Set replaces the config if it is valid
func (t *Tuning) Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the config and stores the result if it is valid.
// On error the stored config is left untouched.
func (t *Tuning) Update(fn func(*Config)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.cfg
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	t.cfg = next
	return nil
}
