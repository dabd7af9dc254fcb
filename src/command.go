package main

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ryansname/armctl/src/arm"
)

var errUnknownCommand = errors.New("unknown command")

// CommandKind identifies what a Command does to the arm
type CommandKind int

const (
	CommandPower CommandKind = iota
	CommandMove
	CommandHold
	CommandStop
	CommandTune
)

// Command is a parsed operator request, applied by the control worker between cycles
type Command struct {
	Kind   CommandKind
	Value  float64 // power, move target or tuning value
	Level  string  // level name for moves, if one was used
	Param  string  // tuning parameter name
	Source string  // where the command came from, for logging
}

func (c Command) String() string {
	switch c.Kind {
	case CommandPower:
		return fmt.Sprintf("power %.3f", c.Value)
	case CommandMove:
		if c.Level != "" {
			return fmt.Sprintf("move %s (%.0f)", c.Level, c.Value)
		}
		return fmt.Sprintf("move %.0f", c.Value)
	case CommandHold:
		return "hold"
	case CommandStop:
		return "stop"
	case CommandTune:
		return fmt.Sprintf("tune %s %v", c.Param, c.Value)
	default:
		return "unknown"
	}
}

// tuneParams maps tuning parameter names to the config field they set
var tuneParams = map[string]func(c *arm.Config, v float64){
	"kp":            func(c *arm.Config, v float64) { c.Gains.Kp = v },
	"ki":            func(c *arm.Config, v float64) { c.Gains.Ki = v },
	"kd":            func(c *arm.Config, v float64) { c.Gains.Kd = v },
	"scale":         func(c *arm.Config, v float64) { c.Feedforward.Scale = v },
	"offset":        func(c *arm.Config, v float64) { c.Feedforward.ZeroOffsetTicks = v },
	"ticks_per_rev": func(c *arm.Config, v float64) { c.Feedforward.TicksPerRev = v },
	"limit":         func(c *arm.Config, v float64) { c.OutputLimit = v },
	"tolerance":     func(c *arm.Config, v float64) { c.Tolerance = v },
	"settled":       func(c *arm.Config, v float64) { c.SettledBand = v },
}

// ParseCommand parses one line of the command grammar:
//
//	power <p> | move <level|ticks> | hold | stop | tune <param> <value>
func ParseCommand(line string, levels Levels) (Command, error) {
	parts := strings.Fields(strings.ToLower(line))
	if len(parts) == 0 {
		return Command{}, fmt.Errorf("%w: empty", errUnknownCommand)
	}

	switch parts[0] {
	case "power":
		if len(parts) != 2 {
			return Command{}, errors.New("usage: power <-1..1>")
		}
		p, err := parseFinite(parts[1])
		if err != nil {
			return Command{}, fmt.Errorf("power: %w", err)
		}
		return Command{Kind: CommandPower, Value: p}, nil

	case "move":
		if len(parts) != 2 {
			return Command{}, errors.New("usage: move <level|ticks>")
		}
		if pos, err := levels.Lookup(parts[1]); err == nil {
			return Command{Kind: CommandMove, Value: pos, Level: parts[1]}, nil
		}
		pos, err := parseFinite(parts[1])
		if err != nil {
			return Command{}, fmt.Errorf("%w: %q", errUnknownLevel, parts[1])
		}
		return Command{Kind: CommandMove, Value: pos}, nil

	case "hold":
		return Command{Kind: CommandHold}, nil

	case "stop":
		return Command{Kind: CommandStop}, nil

	case "tune":
		if len(parts) != 3 {
			return Command{}, errors.New("usage: tune <param> <value>")
		}
		if _, ok := tuneParams[parts[1]]; !ok {
			return Command{}, fmt.Errorf("unknown tuning parameter %q", parts[1])
		}
		v, err := parseFinite(parts[2])
		if err != nil {
			return Command{}, fmt.Errorf("tune %s: %w", parts[1], err)
		}
		return Command{Kind: CommandTune, Param: parts[1], Value: v}, nil
	}

	return Command{}, fmt.Errorf("%w: %s", errUnknownCommand, parts[0])
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return v, nil
}
