package sensor

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/i474232898/sensor-monitoring/internal/httpx"
)

const (
	statusPath      = "status.xml"
	maxPayloadBytes = 1 << 20
)

// HTTPSensor reads a networked thermo-hygrometer that publishes its state as
// an XML status page.
type HTTPSensor struct {
	id      string
	name    string
	baseURL string
	client  *httpx.Client
	now     func() time.Time
}

// NewHTTPSensor creates a sensor polling {baseURL}/status.xml.
func NewHTTPSensor(id, name, baseURL string, client *httpx.Client) *HTTPSensor {
	return &HTTPSensor{
		id:      id,
		name:    name,
		baseURL: baseURL,
		client:  client,
		now:     time.Now,
	}
}

func (s *HTTPSensor) ID() string   { return s.id }
func (s *HTTPSensor) Name() string { return s.name }

// statusPayload mirrors <response><tmpr1>..</tmpr1><hum1>..</hum1></response>.
type statusPayload struct {
	XMLName     xml.Name `xml:"response"`
	Temperature string   `xml:"tmpr1"`
	Humidity    string   `xml:"hum1"`
}

// Sync fetches and parses the current status page.
func (s *HTTPSensor) Sync(ctx context.Context) (Reading, error) {
	u, err := url.JoinPath(s.baseURL, statusPath)
	if err != nil {
		return Reading{}, &TransportError{Err: fmt.Errorf("build url: %w", err)}
	}

	resp, err := s.client.Get(ctx, u)
	if err != nil {
		return Reading{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return Reading{}, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}

	return parseStatus(body, s.now())
}

func parseStatus(body []byte, now time.Time) (Reading, error) {
	var payload statusPayload
	if err := xml.Unmarshal(body, &payload); err != nil {
		return Reading{}, &ValidationError{Reason: "decode status.xml", Err: err}
	}

	return Reading{
		Temperature: ParseMeasurement(payload.Temperature),
		Humidity:    ParseMeasurement(payload.Humidity),
		Timestamp:   now,
	}, nil
}
