package telemetry

import (
	"context"
	"encoding/json"
	"errors"
)

// Sample is one persisted sensor sample as published to subscribers.
type Sample struct {
	SensorID           string   `json:"sensorId"`
	Temperature        *float64 `json:"t,omitempty"`
	Humidity           *float64 `json:"h,omitempty"`
	Timestamp          int64    `json:"ts"`
	AverageTemperature *float64 `json:"at,omitempty"`
	AverageHumidity    *float64 `json:"ah,omitempty"`
}

func (s Sample) payload() ([]byte, error) {
	return json.Marshal(s)
}

// Publisher forwards samples to an external bus.
type Publisher interface {
	Publish(ctx context.Context, s Sample) error
	Close() error
}

// Multi fans a sample out to every publisher.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, s Sample) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
