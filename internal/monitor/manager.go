package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/sensor-monitoring/internal/sensor"
	"github.com/i474232898/sensor-monitoring/internal/store"
	"github.com/i474232898/sensor-monitoring/internal/telemetry"
)

// Placeholders for extrema missing from a stored day document.
const (
	defaultMax            = 0
	defaultMinTemperature = 999
	defaultMinHumidity    = 100

	seedAttempts = 3
)

// dayState tracks whether the in-memory aggregate reflects the stored day.
type dayState int

const (
	dayUninitialized dayState = iota
	// dayLoaded means an existing day document was read into memory.
	dayLoaded
	// dayInitialized means the day document was created from memory.
	dayInitialized
)

type Options struct {
	// Location defines the calendar day. Defaults to time.Local.
	Location *time.Location
	// Retention is how long day documents are kept.
	Retention time.Duration
	// Publisher receives every inserted sample. Optional.
	Publisher telemetry.Publisher
	// Now overrides the clock.
	Now func() time.Time
}

// Manager owns the day aggregate of one sensor and keeps it in step with the
// store. All mutations of the aggregate are serialized.
type Manager struct {
	sensor    sensor.Sensor
	store     store.Store
	publisher telemetry.Publisher
	log       zerolog.Logger
	loc       *time.Location
	retention time.Duration
	now       func() time.Time

	mu    sync.Mutex
	agg   DailyAggregate
	state dayState
}

func NewManager(s sensor.Sensor, st store.Store, log zerolog.Logger, opts Options) *Manager {
	m := &Manager{
		sensor:    s,
		store:     st,
		publisher: opts.Publisher,
		log:       log.With().Str("component", "sensor-manager").Str("sensor", s.ID()).Logger(),
		loc:       opts.Location,
		retention: opts.Retention,
		now:       opts.Now,
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Start resets the day and reconciles it with the store before the
// scheduler begins.
// A failed step does not stop the following ones; the day is retried by the
// next update or insert.
func (m *Manager) Start(ctx context.Context) error {
	m.ResetDay()

	var errs []error
	if _, err := m.InitializeSensor(ctx); err != nil {
		m.log.Error().Err(err).Msg("failed to initialize sensor")
		errs = append(errs, err)
	}
	if _, err := m.InitializeDay(ctx); err != nil {
		m.log.Error().Err(err).Msg("failed to initialize day")
		errs = append(errs, err)
	}
	m.InitializeMovingAverage(ctx)
	return errors.Join(errs...)
}

// ResetDay starts a new day at the current local date. The moving-average
// window is kept.
func (m *Manager) ResetDay() {
	date := DayKey(m.now(), m.loc)

	m.mu.Lock()
	m.agg.reset(date)
	m.state = dayUninitialized
	m.mu.Unlock()

	m.log.Info().Str("date", date).Msg("day reset")
}

// Snapshot returns a copy of the current aggregate.
func (m *Manager) Snapshot() DailyAggregate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agg.clone()
}

// DayReady reports whether the aggregate was reconciled with today's stored
// day document.
func (m *Manager) DayReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != dayUninitialized
}

// ensureDay retries InitializeDay while the current day is not reconciled.
func (m *Manager) ensureDay(ctx context.Context) bool {
	if m.DayReady() {
		return true
	}
	if _, err := m.InitializeDay(ctx); err != nil {
		m.log.Error().Err(err).Msg("day still not initialized")
		return false
	}
	return m.DayReady()
}

func (m *Manager) currentDate() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agg.Date
}

func (m *Manager) todayMillis() int64 {
	return Midnight(m.now(), m.loc).UnixMilli()
}

// InitializeSensor creates the sensor document when it is missing, together
// with the legacy alert bookkeeping record. It reports whether the sensor
// was created.
func (m *Manager) InitializeSensor(ctx context.Context) (bool, error) {
	path := sensorPath(m.sensor.ID())

	_, err := m.store.Get(ctx, path)
	if err == nil {
		m.log.Info().Msg("sensor exists")
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("failed to read sensor: %w", err)
	}

	seed := DailyAggregate{}
	if reading, err := m.sensor.Sync(ctx); err != nil {
		m.log.Error().Err(err).Msg("failed to sync sensor")
	} else {
		seed.Temperature.seed(reading.Temperature)
		seed.Humidity.seed(reading.Humidity)
	}

	fields := seed.aggregateFields()
	for k, v := range seed.currentFields() {
		fields[k] = v
	}
	fields["name"] = m.sensor.Name()
	fields["firstDayTimestamp"] = m.todayMillis()
	fields["lastUpdateTime"] = m.now().UnixMilli()

	if err := m.store.Create(ctx, path, fields); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create sensor: %w", err)
	}
	m.log.Info().Msg("created sensor")

	attempt(m.log, "create warnings record", func() error {
		err := m.store.Create(ctx, warningsPath(m.sensor.ID()), map[string]any{
			"emails":        []any{},
			"lastAlertTime": int64(0),
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil
		}
		return err
	})
	return true, nil
}

// InitializeDay loads today's day document into memory or, when it does not
// exist, seeds the aggregate from a fresh sync and creates it. It reports
// whether the document was created. Loading never writes.
func (m *Manager) InitializeDay(ctx context.Context) (bool, error) {
	date := m.currentDate()
	path := dayPath(m.sensor.ID(), date)

	doc, err := m.store.Get(ctx, path)
	if err == nil {
		m.loadDay(date, doc)
		m.log.Info().Str("date", date).Msg("current day exists")
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("failed to read day %s: %w", date, err)
	}

	reading, syncErr := m.sensor.Sync(ctx)
	if syncErr != nil {
		m.log.Error().Err(syncErr).Msg("failed to sync sensor")
	}

	m.mu.Lock()
	if m.agg.Date == date {
		if syncErr != nil {
			// Fall back to the last reading that survived the reset.
			reading = m.agg.lastReading()
		}
		m.agg.Temperature.seed(reading.Temperature)
		m.agg.Humidity.seed(reading.Humidity)
		m.agg.Count = 0
	}
	fields := m.agg.aggregateFields()
	m.mu.Unlock()

	fields["data"] = []any{}
	fields["count"] = 0
	fields["timestamp"] = m.todayMillis()

	if err := m.store.Create(ctx, path, fields); err != nil {
		if !errors.Is(err, store.ErrAlreadyExists) {
			return false, fmt.Errorf("failed to create day %s: %w", date, err)
		}
		m.log.Warn().Str("date", date).Msg("day was created concurrently")
		doc, err := m.store.Get(ctx, path)
		if err != nil {
			return false, fmt.Errorf("failed to read day %s: %w", date, err)
		}
		m.loadDay(date, doc)
		return false, nil
	}

	m.mu.Lock()
	if m.agg.Date == date {
		m.state = dayInitialized
	}
	m.mu.Unlock()
	m.log.Info().Str("date", date).Msg("created new day")
	return true, nil
}

func (m *Manager) loadDay(date string, doc store.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.agg.Date != date {
		return
	}
	m.state = dayLoaded

	load := func(s *Stats, avg, max, min string, defMin float64) {
		if v, ok := doc.Float(avg); ok {
			s.Average, s.HasAverage = v, true
		}
		s.Max = floatOr(doc, max, defaultMax)
		s.Min = floatOr(doc, min, defMin)
		s.HasRange = true
	}
	load(&m.agg.Temperature, "averageTemperature", "maxTemperature", "minTemperature", defaultMinTemperature)
	load(&m.agg.Humidity, "averageHumidity", "maxHumidity", "minHumidity", defaultMinHumidity)

	if n, ok := doc.Int64("count"); ok {
		m.agg.Count = int(n)
	} else {
		data, _ := doc.Slice("data")
		m.agg.Count = len(data)
	}
}

func floatOr(doc store.Document, field string, def float64) float64 {
	if v, ok := doc.Float(field); ok {
		return v
	}
	return def
}

// InitializeMovingAverage seeds the window from today's samples of the last
// hour, falling back to fresh syncs. The window stays empty when every
// attempt fails.
func (m *Manager) InitializeMovingAverage(ctx context.Context) {
	now := m.now()
	date := m.currentDate()

	var entries []WindowEntry
	attempt(m.log, "load moving average samples", func() error {
		doc, err := m.store.Get(ctx, dayPath(m.sensor.ID(), date))
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		entries = windowFromSamples(doc, now)
		return nil
	})

	if len(entries) > 0 {
		m.mu.Lock()
		m.agg.Window = entries
		m.mu.Unlock()
		m.log.Info().Int("samples", len(entries)).Msg("initialized moving average")
		return
	}

	for try := 1; try <= seedAttempts; try++ {
		reading, err := m.sensor.Sync(ctx)
		if err != nil {
			m.log.Error().Err(err).Int("try", try).Msg("failed to seed moving average")
			continue
		}
		m.mu.Lock()
		m.agg.Window = []WindowEntry{{
			Temperature: reading.Temperature,
			Humidity:    reading.Humidity,
			Timestamp:   m.now(),
		}}
		m.mu.Unlock()
		m.log.Info().Msg("initialized moving average from sensor")
		return
	}
	m.log.Warn().Msg("moving average starts empty")
}

func windowFromSamples(doc store.Document, now time.Time) []WindowEntry {
	data, _ := doc.Slice("data")
	cutoff := now.Add(-WindowSpan)

	var entries []WindowEntry
	for _, item := range data {
		sample, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s := store.Document{Fields: sample}
		ts, ok := s.Int64("ts")
		if !ok {
			continue
		}
		at := time.UnixMilli(ts)
		if !at.After(cutoff) {
			continue
		}
		entries = append(entries, WindowEntry{
			Temperature: measurement(s, "t"),
			Humidity:    measurement(s, "h"),
			Timestamp:   at,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries
}

func measurement(doc store.Document, field string) sensor.Measurement {
	if v, ok := doc.Float(field); ok {
		return sensor.Ok(v)
	}
	return sensor.Skipped
}

// RunUpdate folds a fresh reading into the aggregate and persists the sensor
// document when anything changed. While the day is not reconciled with the
// store only the raw reading is recorded, so stored statistics are never
// replaced by partial ones.
func (m *Manager) RunUpdate(ctx context.Context) error {
	ready := m.ensureDay(ctx)

	reading, err := m.sensor.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sensor sync failed: %w", err)
	}
	now := m.now()

	m.mu.Lock()
	var changed bool
	fields := map[string]any{}
	if ready {
		changed = m.agg.Update(reading, now)
		fields = m.agg.aggregateFields()
	} else {
		changed = m.agg.observe(reading, now)
	}
	for k, v := range m.agg.currentFields() {
		fields[k] = v
	}
	m.mu.Unlock()

	if !changed {
		m.log.Debug().Msg("sensor data unchanged")
		return nil
	}

	fields["lastUpdateTime"] = now.UnixMilli()
	if attempt(m.log, "update sensor data", func() error {
		return m.store.Set(ctx, sensorPath(m.sensor.ID()), fields, true)
	}) {
		m.log.Info().Msg("sensor data updated")
	}
	return nil
}

// RunInsert appends a fresh sample to today's day document along with the
// current aggregates, then publishes it.
// The aggregates and count are left out while the day is not reconciled.
func (m *Manager) RunInsert(ctx context.Context) error {
	ready := m.ensureDay(ctx)

	reading, err := m.sensor.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sensor sync failed: %w", err)
	}
	now := m.now()

	m.mu.Lock()
	date := m.agg.Date
	fields := map[string]any{}
	if ready {
		fields = m.agg.aggregateFields()
		fields["count"] = m.agg.Count
	}
	at, ah := m.agg.WindowMean()
	m.mu.Unlock()

	sample := map[string]any{"ts": now.UnixMilli()}
	putMeasurement(sample, "t", reading.Temperature)
	putMeasurement(sample, "h", reading.Humidity)
	putMeasurement(sample, "at", at)
	putMeasurement(sample, "ah", ah)

	fields["data"] = store.ArrayUnion{sample}
	fields["timestamp"] = m.todayMillis()

	if attempt(m.log, "add new point", func() error {
		return m.store.Set(ctx, dayPath(m.sensor.ID(), date), fields, true)
	}) {
		m.log.Info().Str("date", date).Msg("new point added")
	}

	if m.publisher != nil {
		attempt(m.log, "publish sample", func() error {
			return m.publisher.Publish(ctx, telemetry.Sample{
				SensorID:           m.sensor.ID(),
				Temperature:        valuePtr(reading.Temperature),
				Humidity:           valuePtr(reading.Humidity),
				Timestamp:          now.UnixMilli(),
				AverageTemperature: valuePtr(at),
				AverageHumidity:    valuePtr(ah),
			})
		})
	}
	return nil
}

func putMeasurement(fields map[string]any, key string, m sensor.Measurement) {
	if m.OK {
		fields[key] = m.Value
	}
}

func valuePtr(m sensor.Measurement) *float64 {
	if !m.OK {
		return nil
	}
	v := m.Value
	return &v
}

// Rollover moves to the new day: reset, initialize, then purge expired days.
func (m *Manager) Rollover(ctx context.Context) error {
	m.ResetDay()

	var errs []error
	if _, err := m.InitializeDay(ctx); err != nil {
		m.log.Error().Err(err).Msg("failed to initialize new day")
		errs = append(errs, err)
	}
	if err := m.PurgeExpiredDays(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PurgeExpiredDays deletes day documents older than the retention window and
// points firstDayTimestamp at the oldest remaining day. Each deletion is
// independent.
func (m *Manager) PurgeExpiredDays(ctx context.Context) error {
	collection := dataCollection(m.sensor.ID())
	cutoff := Midnight(m.now(), m.loc).Add(-m.retention).UnixMilli()

	var queryErr error
	expired, err := m.store.Query(ctx, collection, store.Where("timestamp", store.OpLess, cutoff))
	if err != nil {
		m.log.Error().Err(err).Msg("failed to query expired days")
		queryErr = fmt.Errorf("failed to query expired days: %w", err)
	}
	for _, doc := range expired {
		if attempt(m.log, "delete day "+doc.ID, func() error {
			return m.store.Delete(ctx, doc.Path)
		}) {
			m.log.Info().Str("date", doc.ID).Msg("deleted day")
		}
	}

	remaining, err := m.store.Query(ctx, collection, store.Where("timestamp", store.OpGreaterEqual, 0))
	if err != nil {
		m.log.Error().Err(err).Msg("failed to query remaining days")
		return errors.Join(queryErr, fmt.Errorf("failed to query remaining days: %w", err))
	}

	var first int64
	found := false
	for _, doc := range remaining {
		ts, ok := doc.Int64("timestamp")
		if ok && (!found || ts < first) {
			first, found = ts, true
		}
	}
	if !found {
		return queryErr
	}

	if attempt(m.log, "set first day", func() error {
		return m.store.Set(ctx, sensorPath(m.sensor.ID()), map[string]any{"firstDayTimestamp": first}, true)
	}) {
		m.log.Info().Str("date", DayKey(time.UnixMilli(first), m.loc)).Msg("set first day")
	}
	return queryErr
}
