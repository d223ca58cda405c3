package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/sensor-monitoring/internal/logging"
	"github.com/i474232898/sensor-monitoring/internal/monitor"
	"github.com/i474232898/sensor-monitoring/internal/sensor"
	"github.com/i474232898/sensor-monitoring/internal/store"
)

type staticAggregates monitor.DailyAggregate

func (s staticAggregates) Snapshot() monitor.DailyAggregate { return monitor.DailyAggregate(s) }

func newTestApp(t *testing.T, agg monitor.DailyAggregate) (*fiber.App, store.Store, string) {
	t.Helper()
	app := fiber.New()
	st := store.NewMemoryStore()
	dir := t.TempDir()
	RegisterRoutes(app, Deps{
		SensorID:   "lab",
		Aggregates: staticAggregates(agg),
		Store:      st,
		LogDir:     dir,
	})
	return app, st, dir
}

func get(t *testing.T, app *fiber.App, target string) (*http.Response, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestSensorReturnsLiveAggregate(t *testing.T) {
	agg := monitor.DailyAggregate{Date: "20240310"}
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	agg.Update(sensor.Reading{Temperature: sensor.Ok(20), Humidity: sensor.Skipped}, now)
	agg.Update(sensor.Reading{Temperature: sensor.Ok(24), Humidity: sensor.Skipped}, now.Add(time.Minute))

	app, _, _ := newTestApp(t, agg)
	resp, body := get(t, app, "/api/v1/sensor")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var view sensorView
	if err := json.Unmarshal([]byte(body), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Count != 2 || view.Date != "20240310" || view.SensorID != "lab" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Temperature.Average == nil || *view.Temperature.Average != 22 {
		t.Fatalf("expected average temperature 22, got %v", view.Temperature.Average)
	}
	if view.Humidity.Average != nil {
		t.Fatalf("expected no humidity average, got %v", *view.Humidity.Average)
	}
}

func TestDayDocument(t *testing.T) {
	app, st, _ := newTestApp(t, monitor.DailyAggregate{})
	err := st.Create(context.Background(), "sensor/lab/data/20240310", map[string]any{"averageTemperature": 21.5})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	cases := []struct {
		target string
		status int
	}{
		{"/api/v1/sensor/days/20240310", http.StatusOK},
		{"/api/v1/sensor/days/20240311", http.StatusNotFound},
		{"/api/v1/sensor/days/2024-03-10", http.StatusBadRequest},
		{"/api/v1/sensor/days/warnings", http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, body := get(t, app, tc.target)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.target, tc.status, resp.StatusCode)
		}
		if tc.status == http.StatusOK && !strings.Contains(body, "21.5") {
			t.Fatalf("%s: unexpected body %s", tc.target, body)
		}
	}
}

func TestLogsTail(t *testing.T) {
	app, _, dir := newTestApp(t, monitor.DailyAggregate{})

	if resp, _ := get(t, app, "/logs"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d without log file, got %d", http.StatusNotFound, resp.StatusCode)
	}

	var combined strings.Builder
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&combined, "line %d\n", i)
	}
	writeFile(t, filepath.Join(dir, logging.CombinedLogFile), combined.String())
	writeFile(t, filepath.Join(dir, logging.ErrorLogFile), "failed to add new point\n")

	_, body := get(t, app, "/logs?lines=2")
	if body != "line 4\nline 5\n" {
		t.Fatalf("unexpected tail %q", body)
	}

	_, body = get(t, app, "/logs?lines=0")
	if body != "line 5\n" {
		t.Fatalf("expected lines to clamp to 1, got %q", body)
	}

	_, body = get(t, app, "/logs?lines=abc")
	if !strings.HasPrefix(body, "line 1\n") {
		t.Fatalf("expected default line count, got %q", body)
	}

	_, body = get(t, app, "/logs?errors=1")
	if body != "failed to add new point\n" {
		t.Fatalf("unexpected error log %q", body)
	}
}

func TestTailFileRingOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	writeFile(t, path, "a\nb\nc\nd\ne\nf\ng\n")

	lines, err := tailFile(path, 3)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if strings.Join(lines, ",") != "e,f,g" {
		t.Fatalf("unexpected lines %v", lines)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
