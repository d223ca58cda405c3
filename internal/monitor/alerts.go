package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/sensor-monitoring/internal/mailer"
	"github.com/i474232898/sensor-monitoring/internal/sensor"
	"github.com/i474232898/sensor-monitoring/internal/store"
)

// Evaluator alerts subscribers whose thresholds the current reading reached.
type Evaluator struct {
	sensor   sensor.Sensor
	store    store.Store
	mailer   mailer.Mailer
	log      zerolog.Logger
	cooldown time.Duration
	now      func() time.Time
}

// NewEvaluator builds an Evaluator. A nil now uses time.Now.
func NewEvaluator(s sensor.Sensor, st store.Store, m mailer.Mailer, log zerolog.Logger, cooldown time.Duration, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		sensor:   s,
		store:    st,
		mailer:   m,
		log:      log.With().Str("component", "alerts").Str("sensor", s.ID()).Logger(),
		cooldown: cooldown,
		now:      now,
	}
}

// CheckLimitsAndSendWarningEmails syncs the sensor and emails every opted-in
// subscriber whose temperature or humidity threshold is at or below the
// reading and whose cooldown has elapsed. Each subscriber is handled
// independently; only a failed sync or query is returned.
func (e *Evaluator) CheckLimitsAndSendWarningEmails(ctx context.Context) error {
	reading, err := e.sensor.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sensor sync failed: %w", err)
	}

	eligible, err := e.eligibleSubscribers(ctx, reading)
	if err != nil {
		e.log.Error().Err(err).Msg("error getting users eligible for warnings")
		return err
	}
	if len(eligible) == 0 {
		return nil
	}
	e.log.Info().Int("count", len(eligible)).Msg("eligible users for alerts")

	email := warningEmail(e.sensor.Name(), reading)
	for _, sub := range eligible {
		email.To = sub.Email
		if !attempt(e.log, "send warning to "+sub.Email, func() error {
			return e.mailer.SendEmail(ctx, email)
		}) {
			continue
		}
		e.log.Info().Str("to", sub.Email).Msg("sent warning")

		attempt(e.log, "update lastAlertTime of "+sub.Email, func() error {
			return e.store.Set(ctx, userPath(sub.Email), map[string]any{
				"lastAlertTime": e.now().UnixMilli(),
			}, true)
		})
	}
	return nil
}

// eligibleSubscribers returns the deduplicated subscribers to alert, ordered
// by email.
func (e *Evaluator) eligibleSubscribers(ctx context.Context, r sensor.Reading) ([]Subscriber, error) {
	minLastAlert := e.now().Add(-e.cooldown).UnixMilli()
	byEmail := map[string]Subscriber{}

	for _, metric := range []struct {
		field string
		value sensor.Measurement
	}{
		{"temperature", r.Temperature},
		{"humidity", r.Humidity},
	} {
		if !metric.value.OK {
			continue
		}
		docs, err := e.store.Query(ctx, usersCollection,
			store.Where(metric.field, store.OpLessEqual, metric.value.Value),
			store.Where("sendAlerts", store.OpEqual, true),
		)
		if err != nil {
			return nil, fmt.Errorf("query users by %s: %w", metric.field, err)
		}
		for _, doc := range docs {
			sub := subscriberFromDocument(doc)
			if sub.cooledDown(minLastAlert) {
				byEmail[sub.Email] = sub
			}
		}
	}

	subs := make([]Subscriber, 0, len(byEmail))
	for _, sub := range byEmail {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Email < subs[j].Email })
	return subs, nil
}

func warningEmail(sensorName string, r sensor.Reading) mailer.Email {
	return mailer.Email{
		Subject: "WARNING: sensor " + sensorName,
		Text: fmt.Sprintf("Sensor %s read a value beyond the allowed limit.\n\nCurrent sensor state:\nTemperature: %s°C\nHumidity: %s%%",
			sensorName, formatMeasurement(r.Temperature), formatMeasurement(r.Humidity)),
	}
}

func formatMeasurement(m sensor.Measurement) string {
	if !m.OK {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", m.Value)
}
