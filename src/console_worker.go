package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/ryansname/armctl/src/arm"
)

// gotoTimeout is how long goto waits for the arm to settle at a level
const gotoTimeout = 10 * time.Second

var errGotoTimeout = errors.New("timed out waiting for arm to hold")

// readlineWriter wraps log output to work with readline
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// Global readline writer for log output
var rlWriter = &readlineWriter{}

// ConsoleState holds what the console knows about the arm
type ConsoleState struct {
	levels      Levels
	tuning      *arm.Tuning
	commandChan chan<- Command
	latest      *ArmStatus
	out         io.Writer
}

// NewConsoleState creates console state writing to out
func NewConsoleState(levels Levels, tuning *arm.Tuning, commandChan chan<- Command, out io.Writer) *ConsoleState {
	return &ConsoleState{
		levels:      levels,
		tuning:      tuning,
		commandChan: commandChan,
		out:         out,
	}
}

func (s *ConsoleState) print(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

// UpdateStatus stores the latest status for the status command
func (s *ConsoleState) UpdateStatus(status ArmStatus) {
	s.latest = &status
}

// PrintStatus prints the latest arm status
func (s *ConsoleState) PrintStatus() {
	if s.latest == nil {
		s.print("No status received yet")
		return
	}
	st := s.latest
	if st.Mode == arm.MovingManual {
		s.print("mode=%s position=%.0f power=%.3f output=%.3f",
			st.Mode, st.Position, st.Power, st.Output)
		return
	}
	s.print("mode=%s position=%.0f target=%.0f output=%.3f at_target=%v",
		st.Mode, st.Position, st.Target, st.Output, st.AtTarget)
}

// PrintLevels prints the named levels, lowest first
func (s *ConsoleState) PrintLevels() {
	for _, name := range s.levels.Names() {
		s.print("  %-8s %6.0f", name, s.levels[name])
	}
}

// PrintTuning prints the live controller config
func (s *ConsoleState) PrintTuning() {
	c := s.tuning.Config()
	s.print("kp=%g ki=%g kd=%g scale=%g offset=%g ticks_per_rev=%g limit=%g tolerance=%g settled=%g",
		c.Gains.Kp, c.Gains.Ki, c.Gains.Kd,
		c.Feedforward.Scale, c.Feedforward.ZeroOffsetTicks, c.Feedforward.TicksPerRev,
		c.OutputLimit, c.Tolerance, c.SettledBand)
}

func (s *ConsoleState) send(ctx context.Context, cmd Command) bool {
	cmd.Source = "console"
	select {
	case s.commandChan <- cmd:
		return true
	case <-ctx.Done():
		return false
	}
}

// awaitHolding waits until the arm is holding within tolerance of target
func awaitHolding(
	ctx context.Context,
	statusChan <-chan ArmStatus,
	target, tolerance float64,
	timeout time.Duration,
) (ArmStatus, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case s := <-statusChan:
			if s.Mode == arm.Holding && math.Abs(s.Target-target) <= tolerance {
				return s, nil
			}
		case <-timer.C:
			return ArmStatus{}, errGotoTimeout
		case <-ctx.Done():
			return ArmStatus{}, ctx.Err()
		}
	}
}

// handleConsoleCommand processes one console line
func handleConsoleCommand(
	ctx context.Context,
	line string,
	state *ConsoleState,
	statusChan <-chan ArmStatus,
) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}

	switch strings.ToLower(parts[0]) {
	case "status":
		state.PrintStatus()

	case "levels":
		state.PrintLevels()

	case "tuning":
		state.PrintTuning()

	case "goto":
		if len(parts) != 2 {
			log.Println("Usage: goto <level>")
			return
		}
		target, err := state.levels.Lookup(parts[1])
		if err != nil {
			log.Printf("Error: %v", err)
			return
		}
		if !state.send(ctx, Command{Kind: CommandMove, Value: target, Level: strings.ToLower(parts[1])}) {
			return
		}
		s, err := awaitHolding(ctx, statusChan, target, state.tuning.Config().Tolerance, gotoTimeout)
		if err != nil {
			log.Printf("goto %s: %v", parts[1], err)
			return
		}
		state.UpdateStatus(s)
		state.print("Holding at %.0f (%s)", s.Position, parts[1])

	case "help":
		state.print("Commands:")
		state.print("  status                  - Show arm mode, position, target and output")
		state.print("  levels                  - List named levels")
		state.print("  tuning                  - Show live controller config")
		state.print("  goto <level>            - Move to a level and wait until holding")
		state.print("  move <level|ticks>      - Start a closed loop move")
		state.print("  power <-1..1>           - Drive open loop")
		state.print("  hold                    - Hold the current position")
		state.print("  stop                    - Cut power")
		state.print("  tune <param> <value>    - Set kp, ki, kd, scale, offset, ticks_per_rev, limit, tolerance or settled")
		state.print("  help                    - Show this help")

	default:
		cmd, err := ParseCommand(line, state.levels)
		if err != nil {
			log.Printf("Error: %v (try 'help')", err)
			return
		}
		state.send(ctx, cmd)
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for console history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	armctlCache := filepath.Join(cacheDir, "armctl")
	_ = os.MkdirAll(armctlCache, 0750)
	return filepath.Join(armctlCache, "console_history")
}

// consoleWorker provides an interactive operator console
func consoleWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	levels Levels,
	tuning *arm.Tuning,
	statusChan <-chan ArmStatus,
	commandChan chan<- Command,
) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "arm> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("Console worker: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil // Clear readline reference on exit
	}()

	// Redirect log output through readline-aware writer
	rlWriter.rl = rl
	log.SetOutput(rlWriter)

	log.Println("Console started (type 'help' for commands)")

	lineChan := make(chan string, 10)
	state := NewConsoleState(levels, tuning, commandChan, rlWriter)

	go readlineLoop(ctx, cancel, rl, lineChan)

	for {
		select {
		case line := <-lineChan:
			handleConsoleCommand(ctx, line, state, statusChan)
		case s := <-statusChan:
			state.UpdateStatus(s)
		case <-ctx.Done():
			log.Println("Console worker stopped")
			return
		}
	}
}
