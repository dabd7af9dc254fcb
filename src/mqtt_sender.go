package main

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Topics used by armctl
const (
	TopicArmCommand  = "armctl/arm/command"
	TopicArmLevelSet = "armctl/arm/level/set"
	TopicArmState    = "homeassistant/sensor/armctl/state"

	TopicRemoteEnabledSet   = "homeassistant/switch/armctl_remote/set"
	TopicRemoteEnabledState = "homeassistant/switch/armctl_remote/state"
)

// maxQueuedMessages bounds the queue held while disconnected. Retained messages are never dropped.
const maxQueuedMessages = 100

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods
type MQTTSender struct {
	ch chan<- MQTTMessage
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel
func NewMQTTSender(ch chan<- MQTTMessage) *MQTTSender {
	return &MQTTSender{ch: ch}
}

// Send sends a raw MQTTMessage
func (s *MQTTSender) Send(msg MQTTMessage) {
	s.ch <- msg
}

// ArmStatePayload is the JSON published on TopicArmState
type ArmStatePayload struct {
	Mode      string  `json:"mode"`
	Position  float64 `json:"position"`
	Target    float64 `json:"target"`
	Output    float64 `json:"output"`
	Power     float64 `json:"power"`
	AtTarget  bool    `json:"at_target"`
	Level     string  `json:"level"`
	OutputMin float64 `json:"output_min"`
	OutputMax float64 `json:"output_max"`
}

// PublishStatus sends the arm state to Home Assistant
func (s *MQTTSender) PublishStatus(p ArmStatePayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.Send(MQTTMessage{
		Topic:   TopicArmState,
		Payload: payload,
		QoS:     0,
		Retain:  false,
	})
	return nil
}

// PublishRemoteEnabled reports the remote control switch state back to Home Assistant
func (s *MQTTSender) PublishRemoteEnabled(enabled bool) {
	state := "OFF"
	if enabled {
		state = "ON"
	}
	s.Send(MQTTMessage{
		Topic:   TopicRemoteEnabledState,
		Payload: []byte(state),
		QoS:     1,
		Retain:  true,
	})
}

type haDeviceConfig struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

var armDevice = haDeviceConfig{
	Identifiers:  []string{"armctl"},
	Name:         "Arm",
	Manufacturer: "Custom",
	Model:        "Gravity compensated arm",
}

func (s *MQTTSender) sendDiscovery(topic string, config any) error {
	payload, err := json.Marshal(config)
	if err != nil {
		return err
	}
	s.Send(MQTTMessage{
		Topic:   topic,
		Payload: payload,
		QoS:     2,
		Retain:  true,
	})
	return nil
}

// CreateArmSensor creates a Home Assistant sensor reading one key of the arm state via MQTT discovery
func (s *MQTTSender) CreateArmSensor(entityName, jsonKey, unit, icon string, displayPrecision int) error {
	type haEntityConfig struct {
		Name             string         `json:"name,omitempty"`
		StateTopic       string         `json:"state_topic"`
		UnitOfMeasure    string         `json:"unit_of_measurement,omitempty"`
		ValueTemplate    string         `json:"value_template"`
		UniqueId         string         `json:"unique_id"`
		Icon             string         `json:"icon,omitempty"`
		ExpireAfter      uint           `json:"expire_after,omitempty"`
		StateClass       string         `json:"state_class,omitempty"`
		DisplayPrecision int            `json:"suggested_display_precision,omitempty"`
		Device           haDeviceConfig `json:"device"`
	}

	config := haEntityConfig{
		Name:             entityName,
		StateTopic:       TopicArmState,
		UnitOfMeasure:    unit,
		ValueTemplate:    "{{ value_json." + jsonKey + " }}",
		UniqueId:         "armctl_" + jsonKey,
		Icon:             icon,
		ExpireAfter:      60,
		DisplayPrecision: displayPrecision,
		Device:           armDevice,
	}
	// Mode is a text sensor
	if jsonKey != "mode" {
		config.StateClass = "measurement"
	}

	return s.sendDiscovery("homeassistant/sensor/armctl_"+jsonKey+"/config", config)
}

// CreateLevelSelect creates a select entity that moves the arm to a named level
func (s *MQTTSender) CreateLevelSelect(levels Levels) error {
	type haSelectConfig struct {
		Name          string         `json:"name"`
		StateTopic    string         `json:"state_topic"`
		ValueTemplate string         `json:"value_template"`
		CommandTopic  string         `json:"command_topic"`
		Options       []string       `json:"options"`
		UniqueId      string         `json:"unique_id"`
		Icon          string         `json:"icon,omitempty"`
		Device        haDeviceConfig `json:"device"`
	}

	config := haSelectConfig{
		Name:          "Level",
		StateTopic:    TopicArmState,
		ValueTemplate: "{{ value_json.level }}",
		CommandTopic:  TopicArmLevelSet,
		Options:       levels.Names(),
		UniqueId:      "armctl_level",
		Icon:          "mdi:robot-industrial",
		Device:        armDevice,
	}

	return s.sendDiscovery("homeassistant/select/armctl_level/config", config)
}

// CreateRemoteSwitch creates the switch that gates commands arriving over MQTT
func (s *MQTTSender) CreateRemoteSwitch() error {
	type haSwitchConfig struct {
		Name         string         `json:"name"`
		StateTopic   string         `json:"state_topic"`
		CommandTopic string         `json:"command_topic"`
		UniqueId     string         `json:"unique_id"`
		Icon         string         `json:"icon,omitempty"`
		Device       haDeviceConfig `json:"device"`
	}

	config := haSwitchConfig{
		Name:         "Remote control",
		StateTopic:   TopicRemoteEnabledState,
		CommandTopic: TopicRemoteEnabledSet,
		UniqueId:     "armctl_remote",
		Icon:         "mdi:remote",
		Device:       armDevice,
	}

	return s.sendDiscovery("homeassistant/switch/armctl_remote/config", config)
}

// CreateEntities publishes discovery config for every armctl entity
func (s *MQTTSender) CreateEntities(levels Levels) error {
	sensors := []struct {
		name, key, unit, icon string
		precision             int
	}{
		{"Position", "position", "ticks", "mdi:angle-acute", 0},
		{"Target", "target", "ticks", "mdi:target", 0},
		{"Output", "output", "", "mdi:flash", 2},
		{"Mode", "mode", "", "mdi:state-machine", 0},
	}
	for _, sensor := range sensors {
		if err := s.CreateArmSensor(sensor.name, sensor.key, sensor.unit, sensor.icon, sensor.precision); err != nil {
			return err
		}
	}
	if err := s.CreateLevelSelect(levels); err != nil {
		return err
	}
	return s.CreateRemoteSwitch()
}

// isDiscoveryTopic checks if a topic is an MQTT discovery config topic
func isDiscoveryTopic(topic string) bool {
	return strings.HasSuffix(topic, "/config")
}

// enqueue appends msg, dropping the oldest non-retained message once the queue is full
func enqueue(queue []MQTTMessage, msg MQTTMessage) []MQTTMessage {
	queue = append(queue, msg)
	if len(queue) <= maxQueuedMessages {
		return queue
	}
	for i, m := range queue {
		if !m.Retain && !isDiscoveryTopic(m.Topic) {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}

// mqttSenderWorker handles outgoing MQTT messages, queuing them while there is no connection
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	log.Println("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	for {
		select {
		case newClient := <-clientChan:
			log.Println("MQTT sender worker received new client")
			client = newClient

			// Process any queued messages now that we have a client
			if client != nil && client.IsConnected() {
				queuedCount := len(messageQueue)
				for _, msg := range messageQueue {
					token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
					token.Wait()
					if token.Error() != nil {
						log.Printf("Failed to publish queued message to %s: %v\n", msg.Topic, token.Error())
					}
				}
				messageQueue = nil
				if queuedCount > 0 {
					log.Printf("MQTT sender worker processed %d queued messages\n", queuedCount)
				}
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
				token.Wait()
				if token.Error() != nil {
					log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
				}
			} else {
				messageQueue = enqueue(messageQueue, msg)
			}

		case <-ctx.Done():
			log.Println("MQTT sender worker stopped")
			return
		}
	}
}
