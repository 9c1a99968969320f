package subscriber

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/metrics"
)

const TopicPattern = "/cleanflow/device/+/location"

type locationMessage struct {
	DeviceID  string  `json:"device_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

// LocationSubscriber is the position source backed by device samples
// published over MQTT.
type LocationSubscriber struct {
	client mqtt.Client
	log    logrus.FieldLogger

	mu      sync.RWMutex
	handler func(domain.Location)
}

func NewLocationSubscriber(client mqtt.Client, log logrus.FieldLogger) *LocationSubscriber {
	return &LocationSubscriber{client: client, log: log}
}

func (s *LocationSubscriber) Start(handler func(domain.Location)) error {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()

	token := s.client.Subscribe(TopicPattern, 1, s.handleMessage)
	token.Wait()
	return token.Error()
}

func (s *LocationSubscriber) Stop() error {
	token := s.client.Unsubscribe(TopicPattern)
	token.Wait()
	return token.Error()
}

func (s *LocationSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var raw locationMessage
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		metrics.SamplesInvalidTotal.Inc()
		s.log.WithError(err).WithField("topic", msg.Topic()).Warn("invalid location message")
		return
	}

	if err := validateLocationMessage(&raw); err != nil {
		metrics.SamplesInvalidTotal.Inc()
		s.log.WithError(err).WithField("topic", msg.Topic()).Warn("location validation error")
		return
	}

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler == nil {
		return
	}

	s.log.WithField("device_id", raw.DeviceID).Debug("location sample")
	handler(domain.Location{
		Lat:       raw.Latitude,
		Lon:       raw.Longitude,
		Accuracy:  raw.Accuracy,
		Timestamp: time.UnixMilli(raw.Timestamp),
	})
}

func validateLocationMessage(msg *locationMessage) error {
	if msg.DeviceID == "" {
		return fmt.Errorf("device_id: required")
	}
	if msg.Latitude < -90 || msg.Latitude > 90 {
		return fmt.Errorf("latitude: must be between -90 and 90")
	}
	if msg.Longitude < -180 || msg.Longitude > 180 {
		return fmt.Errorf("longitude: must be between -180 and 180")
	}
	if msg.Accuracy < 0 {
		return fmt.Errorf("accuracy: must not be negative")
	}
	if msg.Timestamp <= 0 {
		return fmt.Errorf("timestamp: must be positive")
	}
	return nil
}
