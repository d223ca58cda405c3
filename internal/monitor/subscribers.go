package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/i474232898/sensor-monitoring/internal/store"
)

const usersCollection = "users"

// Subscriber is an alert recipient stored at users/{email}.
type Subscriber struct {
	Email       string
	Temperature float64
	Humidity    float64
	SendAlerts  bool
	// LastAlertTime is in Unix milliseconds; zero when never alerted.
	LastAlertTime    int64
	hasLastAlertTime bool
}

func subscriberFromDocument(doc store.Document) Subscriber {
	sub := Subscriber{Email: doc.ID}
	sub.Temperature, _ = doc.Float("temperature")
	sub.Humidity, _ = doc.Float("humidity")
	sub.SendAlerts, _ = doc.Bool("sendAlerts")
	sub.LastAlertTime, sub.hasLastAlertTime = doc.Int64("lastAlertTime")
	return sub
}

func (s Subscriber) fields() map[string]any {
	return map[string]any{
		"temperature":   s.Temperature,
		"humidity":      s.Humidity,
		"sendAlerts":    s.SendAlerts,
		"lastAlertTime": s.LastAlertTime,
	}
}

// cooledDown reports whether the subscriber was last alerted at or before
// minLastAlert. Subscribers never alerted are always eligible.
func (s Subscriber) cooledDown(minLastAlert int64) bool {
	return !s.hasLastAlertTime || s.LastAlertTime <= minLastAlert
}

// Thresholds are applied to subscribers migrated from the legacy record,
// which carried no per-user limits.
type Thresholds struct {
	Temperature float64
	Humidity    float64
}

// MigrateLegacyWarnings copies the email list of the per-sensor warnings
// record into users/{email} documents. Existing users are left untouched, so
// running it again is a no-op. It returns the number of users created.
func MigrateLegacyWarnings(ctx context.Context, st store.Store, sensorID string, defaults Thresholds, log zerolog.Logger) (int, error) {
	log = log.With().Str("component", "subscribers").Str("sensor", sensorID).Logger()

	doc, err := st.Get(ctx, warningsPath(sensorID))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read warnings record: %w", err)
	}

	emails, _ := doc.Slice("emails")
	lastAlertTime, _ := doc.Int64("lastAlertTime")

	created := 0
	for _, raw := range emails {
		email, ok := raw.(string)
		if !ok || email == "" {
			continue
		}
		sub := Subscriber{
			Email:         email,
			Temperature:   defaults.Temperature,
			Humidity:      defaults.Humidity,
			SendAlerts:    true,
			LastAlertTime: lastAlertTime,
		}
		attempt(log, "migrate subscriber "+email, func() error {
			err := st.Create(ctx, userPath(email), sub.fields())
			if errors.Is(err, store.ErrAlreadyExists) {
				return nil
			}
			if err == nil {
				created++
			}
			return err
		})
	}

	if created > 0 {
		log.Info().Int("created", created).Msg("migrated legacy subscribers")
	}
	return created, nil
}
