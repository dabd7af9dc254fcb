package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/ryansname/armctl/src/arm"
)

// maxMissedReads is how many consecutive failed encoder reads are tolerated before the arm is stopped
const maxMissedReads = 10

// errLogInterval limits how often repeated motor errors are logged
const errLogInterval = 5 * time.Second

var errNoPosition = errors.New("no encoder position available")

// ArmStatus is published by the control worker after every cycle
type ArmStatus struct {
	Mode      arm.Mode
	Position  float64
	Target    float64
	Output    float64
	Power     float64
	AtTarget  bool
	Timestamp time.Time
}

func newArmStatus(s arm.Status, t time.Time) ArmStatus {
	return ArmStatus{
		Mode:      s.Mode,
		Position:  s.Position,
		Target:    s.Target,
		Output:    s.Output,
		Power:     s.Power,
		AtTarget:  s.AtTarget,
		Timestamp: t,
	}
}

// driver owns the arm and the motor. Only the control worker goroutine touches it.
type driver struct {
	motor  Motor
	arm    *arm.Arm
	tuning *arm.Tuning
	now    func() time.Time

	initialised bool
	missed      int
	lastGood    float64
	haveGood    bool

	lastErrLog time.Time
	suppressed int

	stopOnce sync.Once
	stopped  chan struct{}
}

func newDriver(motor Motor, a *arm.Arm, tuning *arm.Tuning) *driver {
	return &driver{
		motor:   motor,
		arm:     a,
		tuning:  tuning,
		now:     time.Now,
		stopped: make(chan struct{}),
	}
}

// tick runs one control cycle: read the encoder, step the arm, write the power
func (d *driver) tick(ctx context.Context) error {
	if !d.initialised {
		if err := d.motor.Init(ctx); err != nil {
			return fmt.Errorf("init motor: %w", err)
		}
		d.initialised = true
	}

	pos, err := d.read(ctx)
	if err != nil {
		d.missed++
		if d.missed >= maxMissedReads {
			if d.arm.Mode() != arm.Stopped {
				log.Printf("Lost encoder for %d cycles, stopping arm\n", d.missed)
				d.arm.Stop()
			}
			if perr := d.motor.SetPower(ctx, 0); perr != nil {
				return errors.Join(err, fmt.Errorf("cut power: %w", perr))
			}
		}
		return err
	}
	d.missed = 0

	output := d.arm.Tick(pos)
	if err := d.motor.SetPower(ctx, output); err != nil {
		return fmt.Errorf("set power: %w", err)
	}
	return nil
}

// read returns a finite encoder position, remembering it as the last good one
func (d *driver) read(ctx context.Context) (float64, error) {
	pos, err := d.motor.Position(ctx)
	if err != nil {
		return 0, fmt.Errorf("read position: %w", err)
	}
	if math.IsNaN(pos) || math.IsInf(pos, 0) {
		return 0, fmt.Errorf("read position: non-finite value %v", pos)
	}
	d.lastGood = pos
	d.haveGood = true
	return pos, nil
}

// apply executes an operator command between cycles
func (d *driver) apply(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CommandPower:
		d.arm.SetManualPower(cmd.Value)

	case CommandMove:
		d.arm.MoveTo(cmd.Value)

	case CommandHold:
		pos, err := d.read(ctx)
		if err != nil {
			if !d.haveGood {
				return errors.Join(errNoPosition, err)
			}
			log.Printf("Hold: %v, using last position %.0f\n", err, d.lastGood)
			pos = d.lastGood
		}
		d.arm.Hold(pos)

	case CommandStop:
		d.arm.Stop()

	case CommandTune:
		set, ok := tuneParams[cmd.Param]
		if !ok {
			return fmt.Errorf("unknown tuning parameter %q", cmd.Param)
		}
		if err := d.tuning.Update(func(c *arm.Config) { set(c, cmd.Value) }); err != nil {
			return fmt.Errorf("tune %s: %w", cmd.Param, err)
		}

	default:
		return fmt.Errorf("%w: kind %d", errUnknownCommand, cmd.Kind)
	}
	return nil
}

// cutPower stops the arm and writes 0 to the motor.
// The worker context may already be cancelled, so the write uses its own.
func (d *driver) cutPower() {
	d.arm.Stop()
	if err := d.motor.SetPower(context.Background(), 0); err != nil {
		log.Printf("Failed to cut motor power: %v\n", err)
	}
}

// shutdown cuts power and marks the driver stopped. Safe to call more than once.
func (d *driver) shutdown() {
	d.stopOnce.Do(func() {
		d.cutPower()
		close(d.stopped)
	})
}

// cutPowerOnPanic cuts power and re-panics. The arm is left Stopped so a restarted
// worker does not resume the last command.
func (d *driver) cutPowerOnPanic() {
	r := recover()
	if r == nil {
		return
	}
	log.Printf("Control worker panicked, cutting power: %v\n", r)
	func() {
		defer func() {
			if r2 := recover(); r2 != nil {
				log.Printf("Panic while cutting power: %v\n", r2)
			}
		}()
		d.cutPower()
	}()
	panic(r)
}

// awaitPowerCut waits for the control worker to cut power on shutdown. If it does not in
// time, power is cut at the motor without touching the arm, which the worker may still own.
func awaitPowerCut(stopped <-chan struct{}, motor Motor, timeout time.Duration) bool {
	select {
	case <-stopped:
		return true
	case <-time.After(timeout):
	}
	log.Println("Control worker did not stop in time, cutting power directly")
	if err := motor.SetPower(context.Background(), 0); err != nil {
		log.Printf("Failed to cut motor power: %v\n", err)
	}
	return false
}

// Stopped is closed once the motor has been told to cut power on shutdown
func (d *driver) Stopped() <-chan struct{} {
	return d.stopped
}

func (d *driver) status() ArmStatus {
	return newArmStatus(d.arm.Snapshot(), d.now())
}

// logError logs motor errors at most once per errLogInterval
func (d *driver) logError(err error) {
	now := d.now()
	if now.Sub(d.lastErrLog) < errLogInterval {
		d.suppressed++
		return
	}
	if d.suppressed > 0 {
		log.Printf("Control error: %v (%d similar suppressed)\n", err, d.suppressed)
	} else {
		log.Printf("Control error: %v\n", err)
	}
	d.lastErrLog = now
	d.suppressed = 0
}

// sendLatest delivers v without blocking, discarding the oldest queued value if ch is full
func sendLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// controlWorker runs the arm at a fixed period. Commands are applied between cycles so the
// arm is only ever touched from this goroutine.
func controlWorker(
	ctx context.Context,
	d *driver,
	period time.Duration,
	commandChan <-chan Command,
	statusChan chan ArmStatus,
) {
	log.Printf("Control worker started (%v period)\n", period)
	defer d.cutPowerOnPanic()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.tick(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				d.logError(err)
				continue
			}
			sendLatest(statusChan, d.status())

		case cmd := <-commandChan:
			before := d.arm.Mode()
			if err := d.apply(ctx, cmd); err != nil {
				log.Printf("Command %q from %s failed: %v\n", cmd, cmd.Source, err)
				continue
			}
			log.Printf("Command %q from %s: %s -> %s\n", cmd, cmd.Source, before, d.arm.Mode())

		case <-ctx.Done():
			d.shutdown()
			log.Println("Control worker stopped")
			return
		}
	}
}
