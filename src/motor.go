package main

import (
	"context"
	"log"
)

// Motor is the hardware side of the arm: one encoder and one power output
type Motor interface {
	// Init prepares the motor for open loop power control. Called once before the first cycle.
	Init(ctx context.Context) error
	// Position returns the encoder position in ticks
	Position(ctx context.Context) (float64, error)
	// SetPower drives the motor with power in [-1, 1]
	SetPower(ctx context.Context, power float64) error
	Close() error
}

// openMotor opens the serial motor controller, or the simulator if no port is configured
func openMotor(cfg MotorConfig, period float64) (Motor, error) {
	if cfg.Port == "" {
		log.Println("No motor port configured, using simulated arm")
		return NewSimMotor(cfg.Sim, period), nil
	}
	log.Printf("Opening motor controller on %s at %d baud\n", cfg.Port, cfg.Baud)
	m, err := openSerialMotor(cfg.Port, cfg.Baud)
	if err != nil {
		return nil, err
	}
	return m, nil
}
