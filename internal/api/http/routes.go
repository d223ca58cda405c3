package httpapi

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/sensor-monitoring/internal/monitor"
	"github.com/i474232898/sensor-monitoring/internal/sensor"
	"github.com/i474232898/sensor-monitoring/internal/store"
)

var validate = validator.New()

// Aggregates exposes the live day aggregate.
type Aggregates interface {
	Snapshot() monitor.DailyAggregate
}

// Deps are the collaborators served over HTTP.
type Deps struct {
	SensorID   string
	Aggregates Aggregates
	Store      store.Store
	// LogDir holds the combined and error log files.
	LogDir string
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	v1 := app.Group("/api/v1")

	v1.Get("/sensor", func(c *fiber.Ctx) error {
		return c.JSON(newSensorView(deps.SensorID, deps.Aggregates.Snapshot()))
	})

	v1.Get("/sensor/days/:date", func(c *fiber.Ctx) error {
		req := dayParam{Date: c.Params("date")}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "date must be formatted as YYYYMMDD")
		}

		doc, err := deps.Store.Get(c.UserContext(), store.Path("sensor", deps.SensorID, "data", req.Date))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no data for requested day")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch day")
		}

		return c.JSON(fiber.Map{
			"date": req.Date,
			"day":  doc.Fields,
		})
	})

	app.Get("/logs", func(c *fiber.Ctx) error {
		q := parseLogQuery(c)
		lines, err := tailFile(q.path(deps.LogDir), q.Lines)
		if err != nil {
			if errors.Is(err, errLogMissing) {
				return fiber.NewError(fiber.StatusNotFound, "log file not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read log file")
		}
		c.Type("txt", "utf-8")
		return c.SendString(joinLines(lines))
	})
}

// dayParam is the day document key.
type dayParam struct {
	Date string `validate:"len=8,numeric"`
}

type metricView struct {
	Current *float64 `json:"current,omitempty"`
	Average *float64 `json:"average,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	// MovingAverage is the mean over the trailing hour.
	MovingAverage *float64 `json:"movingAverage,omitempty"`
}

type sensorView struct {
	SensorID    string     `json:"sensorId"`
	Date        string     `json:"date"`
	Count       int        `json:"count"`
	Temperature metricView `json:"temperature"`
	Humidity    metricView `json:"humidity"`
	WindowSize  int        `json:"windowSize"`
}

func newSensorView(sensorID string, agg monitor.DailyAggregate) sensorView {
	at, ah := agg.WindowMean()
	return sensorView{
		SensorID:    sensorID,
		Date:        agg.Date,
		Count:       agg.Count,
		Temperature: newMetricView(agg.Temperature, at),
		Humidity:    newMetricView(agg.Humidity, ah),
		WindowSize:  len(agg.Window),
	}
}

func newMetricView(s monitor.Stats, moving sensor.Measurement) metricView {
	var v metricView
	if s.HasCurrent {
		v.Current = ptr(s.Current)
	}
	if s.HasAverage {
		v.Average = ptr(s.Average)
	}
	if s.HasRange {
		v.Max = ptr(s.Max)
		v.Min = ptr(s.Min)
	}
	if moving.OK {
		v.MovingAverage = ptr(moving.Value)
	}
	return v
}

func ptr(f float64) *float64 { return &f }

func parseLogQuery(c *fiber.Ctx) logQuery {
	q := logQuery{Lines: defaultLogLines, Errors: c.Query("errors") == "1"}
	if n, err := strconv.Atoi(c.Query("lines")); err == nil {
		q.Lines = n
	}
	q.clamp()
	return q
}
