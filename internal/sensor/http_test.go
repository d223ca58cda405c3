package sensor

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i474232898/sensor-monitoring/internal/httpx"
)

func newTestSensor(t *testing.T, handler http.HandlerFunc) *HTTPSensor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := httpx.New("sensor-test", srv.Client(), httpx.BackoffConfig{
		MaxRetries:      0,
		InitialInterval: time.Millisecond,
	})
	return NewHTTPSensor("s1", "Lab", srv.URL, client)
}

func TestSyncParsesStatusPage(t *testing.T) {
	s := newTestSensor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status.xml" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<?xml version="1.0"?><response><tmpr1>21.5</tmpr1><hum1> 43 </hum1><other>x</other></response>`))
	})

	r, err := s.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, Ok(21.5), r.Temperature)
	require.Equal(t, Ok(43), r.Humidity)
	require.False(t, r.Timestamp.IsZero())
}

func TestSyncSkipsNonNumericFields(t *testing.T) {
	s := newTestSensor(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<response><tmpr1>--</tmpr1><hum1>40.2</hum1></response>`))
	})

	r, err := s.Sync(context.Background())
	require.NoError(t, err)
	require.False(t, r.Temperature.OK)
	require.Equal(t, Ok(40.2), r.Humidity)
}

func TestSyncRejectsMalformedPayload(t *testing.T) {
	s := newTestSensor(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := s.Sync(context.Background())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
}

func TestSyncReportsTransportErrors(t *testing.T) {
	s := newTestSensor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := s.Sync(context.Background())
	var terr *TransportError
	require.True(t, errors.As(err, &terr), "got %v", err)
	require.ErrorIs(t, err, httpx.ErrServerError)
}

func TestParseMeasurement(t *testing.T) {
	tests := []struct {
		raw  string
		want Measurement
	}{
		{"12.5", Ok(12.5)},
		{" -3 ", Ok(-3)},
		{"", Skipped},
		{"abc", Skipped},
		{"NaN", Skipped},
		{"+Inf", Skipped},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ParseMeasurement(tt.raw), "raw %q", tt.raw)
	}

	require.Equal(t, Skipped, Ok(math.NaN()))
}
