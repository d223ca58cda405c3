package monitor

import (
	"time"

	"github.com/i474232898/sensor-monitoring/internal/store"
)

const dayKeyLayout = "20060102"

// DayKey returns the local calendar day of t as YYYYMMDD.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dayKeyLayout)
}

// Midnight returns the start of t's local calendar day.
func Midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func sensorPath(sensorID string) string {
	return store.Path("sensor", sensorID)
}

func dataCollection(sensorID string) string {
	return store.Path("sensor", sensorID, "data")
}

func dayPath(sensorID, date string) string {
	return store.Path("sensor", sensorID, "data", date)
}

func warningsPath(sensorID string) string {
	return store.Path("sensor", sensorID, "data", "warnings")
}

func userPath(email string) string {
	return store.Path(usersCollection, email)
}
