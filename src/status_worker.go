package main

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/ryansname/armctl/src/arm"
	"github.com/ryansname/armctl/src/telemetry"
)

// statusPublishInterval is the slowest rate arm state is published at. Mode changes publish immediately.
const statusPublishInterval = time.Second

// statusPublisher decides when to publish arm state and builds the payload
type statusPublisher struct {
	levels      Levels
	tuning      *arm.Tuning
	output      *telemetry.RollingMinMax
	lastPublish time.Time
	lastMode    arm.Mode
	published   bool
}

func newStatusPublisher(levels Levels, tuning *arm.Tuning) *statusPublisher {
	return &statusPublisher{
		levels: levels,
		tuning: tuning,
		output: telemetry.NewHourMinMax(),
	}
}

// observe records a status and returns the payload to publish, if it is time to
func (p *statusPublisher) observe(s ArmStatus) (ArmStatePayload, bool) {
	p.output.Update(s.Output, s.Timestamp)

	due := !p.published ||
		s.Mode != p.lastMode ||
		s.Timestamp.Sub(p.lastPublish) >= statusPublishInterval
	if !due {
		return ArmStatePayload{}, false
	}
	p.published = true
	p.lastMode = s.Mode
	p.lastPublish = s.Timestamp

	lo, hi, _ := p.output.MinMax(s.Timestamp)
	return ArmStatePayload{
		Mode:      s.Mode.String(),
		Position:  s.Position,
		Target:    s.Target,
		Output:    math.Round(s.Output*1000) / 1000,
		Power:     s.Power,
		AtTarget:  s.AtTarget,
		Level:     p.levelName(s),
		OutputMin: lo,
		OutputMax: hi,
	}, true
}

// levelName returns the level the arm is holding at, or "" if it is not at one
func (p *statusPublisher) levelName(s ArmStatus) string {
	if s.Mode != arm.Holding && s.Mode != arm.MovingAuto {
		return ""
	}
	tolerance := p.tuning.Config().Tolerance
	for _, name := range p.levels.Names() {
		if math.Abs(p.levels[name]-s.Target) <= tolerance {
			return name
		}
	}
	return ""
}

// statusWorker publishes arm state to Home Assistant
func statusWorker(
	ctx context.Context,
	statusChan <-chan ArmStatus,
	publisher *statusPublisher,
	mqttSender *MQTTSender,
) {
	for {
		select {
		case s := <-statusChan:
			payload, ok := publisher.observe(s)
			if !ok {
				continue
			}
			if err := mqttSender.PublishStatus(payload); err != nil {
				log.Printf("Failed to publish arm state: %v\n", err)
			}

		case <-ctx.Done():
			return
		}
	}
}
