package main

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var errUnknownLevel = errors.New("unknown level")

// Levels maps a named arm level to its encoder target
type Levels map[string]float64

// DefaultLevels returns the scoring levels the arm was built for
func DefaultLevels() Levels {
	return Levels{
		"down":   0,
		"bottom": 12,
		"middle": 51,
		"top":    76,
	}
}

// Lookup returns the target for a level name, ignoring case
func (l Levels) Lookup(name string) (float64, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for n, pos := range l {
		if strings.ToLower(n) == want {
			return pos, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", errUnknownLevel, name)
}

// Names returns level names ordered by position, lowest first
func (l Levels) Names() []string {
	names := make([]string, 0, len(l))
	for n := range l {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if l[names[i]] == l[names[j]] {
			return names[i] < names[j]
		}
		return l[names[i]] < l[names[j]]
	})
	return names
}

// Validate rejects empty names and non-finite targets
func (l Levels) Validate() error {
	for n, pos := range l {
		if strings.TrimSpace(n) == "" {
			return errors.New("level name must not be empty")
		}
		if math.IsNaN(pos) || math.IsInf(pos, 0) {
			return fmt.Errorf("level %q has non-finite target", n)
		}
	}
	return nil
}
