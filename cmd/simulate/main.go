// Command simulate publishes synthetic reader scan packets to an MQTT
// broker, exercising the full ingest path without physical hardware: a
// tag walking the default floor layout, noisy anchor ranges and RFID
// detections for nearby items.
//
// Usage:
//
//	simulate [-broker tcp://localhost:1883] [-topic store/simulation] [-interval 1s]
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/halcyon-data/inventory.report/internal/ingest"
	"github.com/halcyon-data/inventory.report/internal/simulate"
)

var (
	broker   = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	topic    = flag.String("topic", ingest.TopicSimulation, "MQTT topic to publish packets on")
	interval = flag.Duration("interval", time.Second, "Time between scan cycles")
	seed     = flag.Uint64("seed", 0, "Random seed (0 for the default)")
	missing  = flag.String("missing", "", "Product ID to mark missing after one minute")
)

func main() {
	flag.Parse()

	opts := mqtt.NewClientOptions().
		AddBroker(*broker).
		SetClientID("inventory-simulator").
		SetAutoReconnect(true).
		SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("Failed to connect to MQTT broker %s: %v", *broker, token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("Publishing scan packets to %s on %s every %s", *broker, *topic, *interval)

	sim := simulate.New(simulate.Config{Interval: *interval, Seed: *seed})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var markAt time.Time
	if *missing != "" {
		markAt = time.Now().Add(time.Minute)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var sent int
	for {
		select {
		case <-ctx.Done():
			log.Printf("Stopped after %d packets", sent)
			return

		case now := <-ticker.C:
			if !markAt.IsZero() && now.After(markAt) {
				sim.MarkMissing(*missing)
				log.Printf("Marked %s missing", *missing)
				markAt = time.Time{}
			}

			payload := sim.Step(now)
			token := client.Publish(*topic, 1, false, payload)
			token.Wait()
			if err := token.Error(); err != nil {
				log.Printf("Publish failed: %v", err)
				continue
			}
			sent++
			if sent%30 == 0 {
				x, y := sim.Position()
				log.Printf("Sent %d packets, tag at (%.0f, %.0f)", sent, x, y)
			}
		}
	}
}
