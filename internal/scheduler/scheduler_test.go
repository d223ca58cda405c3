package scheduler

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func TestRegisterSchedulesTaggedJobs(t *testing.T) {
	s := New(time.UTC, time.Second, zerolog.Nop())

	err := s.Register(
		Job{Name: "update", Cron: "30 * * * * *", Run: noop},
		Job{Name: "insert", Cron: "32 3-59/4 * * * *", Run: noop},
		Job{Name: "alert", Cron: "34 * * * * *", Run: noop},
		Job{Name: "rollover", Cron: "0 0 0 * * *", Run: noop},
	)
	require.NoError(t, err)

	var names []string
	for _, j := range s.scheduler.Jobs() {
		names = append(names, j.Tags()...)
	}
	require.ElementsMatch(t, []string{"update", "insert", "alert", "rollover"}, names)
}

func TestRegisterRejectsBadExpression(t *testing.T) {
	s := New(time.UTC, time.Second, zerolog.Nop())
	require.Error(t, s.Register(Job{Name: "broken", Cron: "every minute", Run: noop}))
}

func TestRunContainsFailuresAndPanics(t *testing.T) {
	var buf bytes.Buffer
	s := New(time.UTC, time.Second, zerolog.New(&buf))

	var deadline bool
	s.run(Job{Name: "update", Run: func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return errors.New("sensor unreachable")
	}})
	require.True(t, deadline)
	require.Contains(t, buf.String(), "job failed")
	require.Contains(t, buf.String(), "sensor unreachable")

	buf.Reset()
	require.NotPanics(t, func() {
		s.run(Job{Name: "insert", Run: func(context.Context) error { panic("nil map") }})
	})
	require.Contains(t, buf.String(), "job panicked")
	require.Contains(t, buf.String(), `"job":"insert"`)
}
