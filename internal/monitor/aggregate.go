package monitor

import (
	"math"
	"time"

	"github.com/i474232898/sensor-monitoring/internal/sensor"
)

// WindowSpan is the length of the trailing moving-average window.
const WindowSpan = time.Hour

// Stats accumulates one metric over a calendar day. Average and the extrema
// are meaningless until their flags are set.
type Stats struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`

	HasCurrent bool `json:"-"`
	HasAverage bool `json:"-"`
	HasRange   bool `json:"-"`
}

// fold computes the next values for m without committing them and reports
// whether anything observable would change.
func (s Stats) fold(m sensor.Measurement, count int) (Stats, bool) {
	if !m.OK {
		return s, false
	}

	next := s
	next.Current, next.HasCurrent = m.Value, true

	next.Average = m.Value
	if count > 0 && s.HasAverage {
		next.Average = (s.Average*float64(count) + m.Value) / float64(count+1)
	}
	next.HasAverage = true

	next.Max, next.Min = m.Value, m.Value
	if s.HasRange {
		next.Max = math.Max(s.Max, m.Value)
		next.Min = math.Min(s.Min, m.Value)
	}
	next.HasRange = true

	changed := !s.HasCurrent || s.Current != next.Current ||
		!s.HasAverage || round1(s.Average) != round1(next.Average) ||
		!s.HasRange || s.Max != next.Max || s.Min != next.Min

	return next, changed
}

// seed sets every value to m as the first reading of a day.
func (s *Stats) seed(m sensor.Measurement) {
	if !m.OK {
		return
	}
	*s = Stats{
		Current: m.Value, Average: m.Value, Max: m.Value, Min: m.Value,
		HasCurrent: true, HasAverage: true, HasRange: true,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// WindowEntry is one sample of the moving-average window.
type WindowEntry struct {
	Temperature sensor.Measurement
	Humidity    sensor.Measurement
	Timestamp   time.Time
}

// DailyAggregate is the in-memory accumulator for the current day.
type DailyAggregate struct {
	// Date is the local calendar day key, YYYYMMDD.
	Date        string
	Count       int
	Temperature Stats
	Humidity    Stats
	// Window holds samples of the trailing hour in time order. It is not
	// scoped to the calendar day.
	Window []WindowEntry
}

// Update folds r into the aggregate and reports whether the persisted view
// would change. Skipped fields leave their metric untouched but the sample
// is always counted.
func (a *DailyAggregate) Update(r sensor.Reading, now time.Time) bool {
	a.Window = append(a.Window, WindowEntry{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Timestamp:   now,
	})
	a.pruneWindow(now)

	temperature, tChanged := a.Temperature.fold(r.Temperature, a.Count)
	humidity, hChanged := a.Humidity.fold(r.Humidity, a.Count)

	a.Temperature = temperature
	a.Humidity = humidity
	a.Count++

	return tChanged || hChanged
}

// observe records r as the latest reading and window sample without touching
// the day statistics. It reports whether the latest reading changed.
func (a *DailyAggregate) observe(r sensor.Reading, now time.Time) bool {
	a.Window = append(a.Window, WindowEntry{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Timestamp:   now,
	})
	a.pruneWindow(now)

	changed := false
	set := func(s *Stats, m sensor.Measurement) {
		if !m.OK {
			return
		}
		if !s.HasCurrent || s.Current != m.Value {
			changed = true
		}
		s.Current, s.HasCurrent = m.Value, true
	}
	set(&a.Temperature, r.Temperature)
	set(&a.Humidity, r.Humidity)
	return changed
}

// lastReading returns the latest raw values; missing ones are Skipped.
func (a *DailyAggregate) lastReading() sensor.Reading {
	r := sensor.Reading{Temperature: sensor.Skipped, Humidity: sensor.Skipped}
	if a.Temperature.HasCurrent {
		r.Temperature = sensor.Ok(a.Temperature.Current)
	}
	if a.Humidity.HasCurrent {
		r.Humidity = sensor.Ok(a.Humidity.Current)
	}
	return r
}

func (a *DailyAggregate) pruneWindow(now time.Time) {
	cutoff := now.Add(-WindowSpan)
	kept := a.Window[:0]
	for _, e := range a.Window {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	a.Window = kept
}

// WindowMean averages the valid window samples of each metric.
func (a *DailyAggregate) WindowMean() (temperature, humidity sensor.Measurement) {
	var tSum, hSum float64
	var tN, hN int
	for _, e := range a.Window {
		if e.Temperature.OK {
			tSum += e.Temperature.Value
			tN++
		}
		if e.Humidity.OK {
			hSum += e.Humidity.Value
			hN++
		}
	}
	temperature, humidity = sensor.Skipped, sensor.Skipped
	if tN > 0 {
		temperature = sensor.Ok(tSum / float64(tN))
	}
	if hN > 0 {
		humidity = sensor.Ok(hSum / float64(hN))
	}
	return temperature, humidity
}

// reset starts a new day, keeping the moving-average window and the latest
// raw reading.
func (a *DailyAggregate) reset(date string) {
	*a = DailyAggregate{
		Date:        date,
		Temperature: Stats{Current: a.Temperature.Current, HasCurrent: a.Temperature.HasCurrent},
		Humidity:    Stats{Current: a.Humidity.Current, HasCurrent: a.Humidity.HasCurrent},
		Window:      a.Window,
	}
}

func (a *DailyAggregate) clone() DailyAggregate {
	c := *a
	c.Window = append([]WindowEntry(nil), a.Window...)
	return c
}

// aggregateFields renders the day statistics as stored document fields.
// Unset values are omitted.
func (a *DailyAggregate) aggregateFields() map[string]any {
	fields := map[string]any{}
	put := func(s Stats, avg, max, min string) {
		if s.HasAverage {
			fields[avg] = s.Average
		}
		if s.HasRange {
			fields[max] = s.Max
			fields[min] = s.Min
		}
	}
	put(a.Temperature, "averageTemperature", "maxTemperature", "minTemperature")
	put(a.Humidity, "averageHumidity", "maxHumidity", "minHumidity")
	return fields
}

// currentFields renders the last raw reading.
func (a *DailyAggregate) currentFields() map[string]any {
	fields := map[string]any{}
	if a.Temperature.HasCurrent {
		fields["temperature"] = a.Temperature.Current
	}
	if a.Humidity.HasCurrent {
		fields["humidity"] = a.Humidity.Current
	}
	return fields
}
