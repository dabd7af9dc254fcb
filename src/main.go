package main

import (
	"context"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	"github.com/ryansname/armctl/src/arm"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// If function returned normally (no panic), exit the goroutine
			// This covers both context cancellation and unexpected completion
			if panicValue == nil {
				return
			}

			// If ran for resetAfter duration before panicking, reset retry state
			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			// Check if we've exhausted retries
			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			// Wait before retry with exponential backoff
			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				// Double delay for next time, cap at max
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func main() {
	log.Println("Starting armctl...")

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	configPath := os.Getenv("ARMCTL_CONFIG")
	if configPath == "" {
		configPath = DefaultConfigFile
	}
	config, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", configPath, err)
	}
	config.applyEnv(os.Getenv)
	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	period := config.Control.Period()
	motor, err := openMotor(config.Motor, period.Seconds())
	if err != nil {
		log.Fatalf("Failed to open motor: %v", err)
	}
	defer func() {
		if err := motor.Close(); err != nil {
			log.Printf("Failed to close motor: %v\n", err)
		}
	}()

	if config.Motor.Port == "" {
		balance := config.Motor.Sim.BalancePower()
		if math.Abs(config.Arm.Feedforward.Scale-balance) > 0.05 {
			log.Printf("Warning: feedforward scale %.2f does not match simulated arm balance power %.2f\n",
				config.Arm.Feedforward.Scale, balance)
		}
	}

	// Create context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())

	tuning := arm.NewTuning(config.Arm)
	d := newDriver(motor, arm.New(tuning), tuning)

	// Create channels for communication between workers
	commandChan := make(chan Command, 10)
	statusChan := make(chan ArmStatus, 1)
	var downstreamChans []chan ArmStatus

	// Launch control worker
	SafeGo(ctx, cancel, "control-worker", func(ctx context.Context) {
		controlWorker(ctx, d, period, commandChan, statusChan)
	})

	if config.MQTT.Enabled() {
		mqttMsgChan := make(chan SensorMessage, 10)
		mqttOutgoingChan := make(chan MQTTMessage, 100)
		mqttClientChan := make(chan mqtt.Client, 1) // Buffered to prevent blocking onConnect
		publishChan := make(chan ArmStatus, 1)
		downstreamChans = append(downstreamChans, publishChan)

		SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
			mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan)
		})

		mqttSender := NewMQTTSender(mqttOutgoingChan)

		log.Println("Creating Home Assistant entities...")
		if err := mqttSender.CreateEntities(config.Levels); err != nil {
			cancel()
			log.Fatalf("Failed to create Home Assistant entities: %v", err)
		}

		publisher := newStatusPublisher(config.Levels, tuning)
		SafeGo(ctx, cancel, "status-worker", func(ctx context.Context) {
			statusWorker(ctx, publishChan, publisher, mqttSender)
		})

		SafeGo(ctx, cancel, "mqtt-interceptor", func(ctx context.Context) {
			mqttInterceptorWorker(ctx, config.Levels, mqttMsgChan, commandChan, mqttSender)
		})

		SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
			mqttWorker(ctx, config.MQTT, mqttTopics(), mqttMsgChan, mqttClientChan)
		})
		log.Println("MQTT workers started")
	} else {
		log.Println("Warning: MQTT_USERNAME and MQTT_PASSWORD not set, Home Assistant integration disabled")
	}

	if os.Getenv("ARMCTL_CONSOLE") != "" {
		consoleChan := make(chan ArmStatus, 1)
		downstreamChans = append(downstreamChans, consoleChan)
		SafeGo(ctx, cancel, "console-worker", func(ctx context.Context) {
			consoleWorker(ctx, cancel, config.Levels, tuning, consoleChan, commandChan)
		})
	}

	// Launch broadcast worker (fans out to all downstream workers)
	SafeGo(ctx, cancel, "broadcast-worker", func(ctx context.Context) {
		broadcastWorker(ctx, statusChan, downstreamChans)
	})

	// Wait for interrupt signal or context cancellation (from panic)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("\nShutting down...")
	case <-ctx.Done():
		log.Println("\nShutting down due to error...")
	}
	cancel()

	// Power must be cut before the motor is closed
	awaitPowerCut(d.Stopped(), motor, time.Second)
}
