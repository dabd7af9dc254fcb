package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// serialMotor talks to the motor controller firmware over a line based serial protocol:
//
//	B          brake when power is zero, run open loop (no reply)
//	E          read encoder, reply "<ticks>"
//	P<power>   set power in [-1, 1] (no reply)
//
// Each request and its reply are one exchange under mu, so callers on different goroutines
// never interleave on the wire.
type serialMotor struct {
	mu     sync.Mutex
	port   io.ReadWriteCloser
	reader *bufio.Reader
}

func openSerialMotor(path string, baud int) (*serialMotor, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return newSerialMotor(port), nil
}

func newSerialMotor(port io.ReadWriteCloser) *serialMotor {
	return &serialMotor{
		port:   port,
		reader: bufio.NewReader(port),
	}
}

func (m *serialMotor) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := fmt.Fprint(m.port, "B\n"); err != nil {
		return fmt.Errorf("write brake mode: %w", err)
	}
	return nil
}

func (m *serialMotor) Position(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := fmt.Fprint(m.port, "E\n"); err != nil {
		return 0, fmt.Errorf("write encoder request: %w", err)
	}

	line, err := m.reader.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("read encoder: %w", err)
	}
	line = strings.TrimSpace(line)

	ticks, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("parse encoder reply %q: %w", line, err)
	}
	return ticks, nil
}

func (m *serialMotor) SetPower(ctx context.Context, power float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if math.IsNaN(power) {
		power = 0
	}
	power = max(-1, min(1, power))
	if _, err := fmt.Fprintf(m.port, "P%.3f\n", power); err != nil {
		return fmt.Errorf("write power: %w", err)
	}
	return nil
}

func (m *serialMotor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port.Close()
}
