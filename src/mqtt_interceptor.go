package main

import (
	"context"
	"log"
	"strings"
)

// remoteGate turns MQTT messages into arm commands, gated by the remote control switch.
// Stop always gets through so the arm can be cut from Home Assistant whatever the switch says.
type remoteGate struct {
	levels  Levels
	enabled bool
}

// handle returns the command for msg, if any, and whether the switch changed
func (g *remoteGate) handle(msg SensorMessage) (cmd Command, ok bool, switched bool) {
	switch msg.Topic {
	case TopicRemoteEnabledSet:
		enabled := strings.EqualFold(msg.Value, "on")
		switched = enabled != g.enabled
		g.enabled = enabled
		return Command{}, false, switched

	case TopicArmLevelSet:
		pos, err := g.levels.Lookup(msg.Value)
		if err != nil {
			log.Printf("Remote: %v\n", err)
			return Command{}, false, false
		}
		cmd = Command{Kind: CommandMove, Value: pos, Level: strings.ToLower(msg.Value)}

	case TopicArmCommand:
		parsed, err := ParseCommand(msg.Value, g.levels)
		if err != nil {
			log.Printf("Remote: bad command %q: %v\n", msg.Value, err)
			return Command{}, false, false
		}
		cmd = parsed

	default:
		return Command{}, false, false
	}

	cmd.Source = "mqtt"
	if !g.enabled && cmd.Kind != CommandStop {
		log.Printf("Remote control disabled, dropping %q\n", cmd)
		return Command{}, false, false
	}
	return cmd, true, false
}

// mqttInterceptorWorker parses incoming MQTT messages into commands for the control worker.
// Commands other than stop are only forwarded while the remote control switch is on.
func mqttInterceptorWorker(
	ctx context.Context,
	levels Levels,
	inputChan <-chan SensorMessage,
	commandChan chan<- Command,
	mqttSender *MQTTSender,
) {
	log.Println("Remote command interceptor started")
	gate := &remoteGate{levels: levels, enabled: true}
	mqttSender.PublishRemoteEnabled(gate.enabled)

	for {
		select {
		case msg := <-inputChan:
			cmd, ok, switched := gate.handle(msg)
			if switched {
				log.Printf("Remote control enabled: %v\n", gate.enabled)
				mqttSender.PublishRemoteEnabled(gate.enabled)
			}
			if !ok {
				continue
			}
			select {
			case commandChan <- cmd:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			log.Println("Remote command interceptor stopped")
			return
		}
	}
}
