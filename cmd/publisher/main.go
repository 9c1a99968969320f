package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/config"
)

type locationMessage struct {
	DeviceID  string  `json:"device_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

// sample area centre in Kingston, Jamaica
const (
	hotspotLat = 17.995
	hotspotLon = -76.921
)

const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomDeviceID() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return "phone-" + string(b)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <interval_seconds>\n", os.Args[0])
		os.Exit(1)
	}

	intervalSec, err := strconv.Atoi(os.Args[1])
	if err != nil || intervalSec <= 0 {
		fmt.Fprintf(os.Stderr, "error: interval must be a positive integer\n")
		os.Exit(1)
	}

	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := config.NewLogger(cfg)
	cfg.MQTT.ClientID = "cleanflow-mock-device"

	client, err := config.NewMQTT(cfg)
	if err != nil {
		log.Fatalf("mqtt: %v", err)
	}
	defer client.Disconnect(250)

	deviceID := randomDeviceID()
	topic := fmt.Sprintf("/cleanflow/device/%s/location", deviceID)
	log.WithFields(logrus.Fields{"broker": cfg.MQTT.Broker, "device_id": deviceID}).
		Infof("publishing every %ds", intervalSec)

	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		var lat, lon float64
		// 30% chance to land within ~50m of the hotspot
		if rand.Float64() < 0.3 {
			lat = hotspotLat + (rand.Float64()-0.5)*0.0009
			lon = hotspotLon + (rand.Float64()-0.5)*0.0009
		} else {
			lat = hotspotLat + (rand.Float64()-0.5)*0.2
			lon = hotspotLon + (rand.Float64()-0.5)*0.2
		}

		msg := locationMessage{
			DeviceID:  deviceID,
			Latitude:  lat,
			Longitude: lon,
			Accuracy:  5 + rand.Float64()*15,
			Timestamp: time.Now().UnixMilli(),
		}

		payload, _ := json.Marshal(msg)
		token := client.Publish(topic, 1, false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			log.WithError(err).Warn("publish failed")
			continue
		}

		log.WithField("topic", topic).Debugf("published %s", payload)
	}
}
