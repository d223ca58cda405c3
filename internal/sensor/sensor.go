package sensor

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"
)

// Measurement is a single parsed sensor field. A field that could not be
// parsed into a finite number is Skipped and must not be folded into any
// accumulator.
type Measurement struct {
	Value float64
	OK    bool
}

// Skipped is the Measurement of a field that could not be read.
var Skipped = Measurement{}

// Ok wraps v. NaN and infinities are reported as Skipped.
func Ok(v float64) Measurement {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Skipped
	}
	return Measurement{Value: v, OK: true}
}

// ParseMeasurement parses a raw payload field.
func ParseMeasurement(raw string) Measurement {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Skipped
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Skipped
	}
	return Ok(v)
}

// Reading is the result of one successful sensor sync.
type Reading struct {
	Temperature Measurement
	Humidity    Measurement
	Timestamp   time.Time
}

// Sensor abstracts the environmental sensor. Sync fetches a fresh reading and
// fails with a *TransportError or *ValidationError.
type Sensor interface {
	ID() string
	Name() string
	Sync(ctx context.Context) (Reading, error)
}
