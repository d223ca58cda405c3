package monitor

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/sensor-monitoring/internal/mailer"
	"github.com/i474232898/sensor-monitoring/internal/sensor"
	"github.com/i474232898/sensor-monitoring/internal/store"
	"github.com/i474232898/sensor-monitoring/internal/telemetry"
)

var (
	testZone = time.FixedZone("CET", 3600)
	nopLog   = zerolog.New(io.Discard)
	errSync  = &sensor.TransportError{Err: errors.New("connection refused")}
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type syncResult struct {
	reading sensor.Reading
	err     error
}

// fakeSensor replays queued results; the last one repeats.
type fakeSensor struct {
	mu      sync.Mutex
	results []syncResult
	calls   int
}

func newSensor(results ...syncResult) *fakeSensor {
	return &fakeSensor{results: results}
}

func (f *fakeSensor) ID() string   { return "lab" }
func (f *fakeSensor) Name() string { return "Lab" }

func (f *fakeSensor) Sync(context.Context) (sensor.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return sensor.Reading{}, errSync
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.reading, r.err
}

func (f *fakeSensor) Queue(results ...syncResult) {
	f.mu.Lock()
	f.results = results
	f.mu.Unlock()
}

func ok(t, h float64) syncResult {
	return syncResult{reading: reading(t, h)}
}

func failed() syncResult {
	return syncResult{err: errSync}
}

func reading(t, h float64) sensor.Reading {
	return sensor.Reading{Temperature: sensor.Ok(t), Humidity: sensor.Ok(h)}
}

// recordingStore counts writes and injects failures.
type recordingStore struct {
	store.Store

	mu        sync.Mutex
	writes    int
	queryErr  error
	deleteErr map[string]error
	setErr    map[string]error
	// getFails holds the number of upcoming Get calls per path that fail.
	getFails map[string]int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: store.NewMemoryStore()}
}

func (s *recordingStore) wrote() {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
}

func (s *recordingStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

var errUnavailable = errors.New("unavailable")

func (s *recordingStore) FailGet(path string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getFails == nil {
		s.getFails = map[string]int{}
	}
	s.getFails[path] = times
}

func (s *recordingStore) Get(ctx context.Context, path string) (store.Document, error) {
	s.mu.Lock()
	if s.getFails[path] > 0 {
		s.getFails[path]--
		s.mu.Unlock()
		return store.Document{}, errUnavailable
	}
	s.mu.Unlock()
	return s.Store.Get(ctx, path)
}

func (s *recordingStore) Create(ctx context.Context, path string, fields map[string]any) error {
	s.wrote()
	return s.Store.Create(ctx, path, fields)
}

func (s *recordingStore) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	s.wrote()
	if err := s.setErr[path]; err != nil {
		return err
	}
	return s.Store.Set(ctx, path, fields, merge)
}

func (s *recordingStore) Update(ctx context.Context, path string, fields map[string]any) error {
	s.wrote()
	return s.Store.Update(ctx, path, fields)
}

func (s *recordingStore) Delete(ctx context.Context, path string) error {
	s.wrote()
	if err := s.deleteErr[path]; err != nil {
		return err
	}
	return s.Store.Delete(ctx, path)
}

func (s *recordingStore) Query(ctx context.Context, collection string, filters ...store.Filter) ([]store.Document, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.Store.Query(ctx, collection, filters...)
}

type fakeMailer struct {
	mu      sync.Mutex
	sent    []mailer.Email
	failFor map[string]bool
}

func (m *fakeMailer) SendEmail(_ context.Context, e mailer.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[e.To] {
		return errors.New("smtp: 550 mailbox unavailable")
	}
	m.sent = append(m.sent, e)
	return nil
}

func (m *fakeMailer) Sent() []mailer.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Email(nil), m.sent...)
}

type recordingPublisher struct {
	mu      sync.Mutex
	samples []telemetry.Sample
}

func (p *recordingPublisher) Publish(_ context.Context, s telemetry.Sample) error {
	p.mu.Lock()
	p.samples = append(p.samples, s)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Close() error { return nil }
