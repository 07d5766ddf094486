package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenzihan666/search/llm"
)

type countingProber struct {
	calls atomic.Int32
	err   error
}

func (p *countingProber) TestAll(context.Context) (map[string]llm.ConnectionTestResult, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return map[string]llm.ConnectionTestResult{
		"a": llm.NewConnectionTestResult(true, "ok", 200, 3),
		"b": llm.NewConnectionTestResult(false, "down", 0, 0),
	}, nil
}

type everyMillis time.Duration

func (d everyMillis) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

func TestParseSchedule(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		spec string
		want time.Time
	}{
		{"0 */15 * * * *", base.Add(15 * time.Minute)},
		{"*/15 * * * *", base.Add(15 * time.Minute)},
		{"@hourly", base.Add(time.Hour)},
		{"15m", base.Add(15 * time.Minute)},
		{"1h30m", base.Add(90 * time.Minute)},
	} {
		sched, err := ParseSchedule(tc.spec)
		require.NoError(t, err, tc.spec)
		assert.Equal(t, tc.want, sched.Next(base), tc.spec)
	}

	for _, spec := range []string{"", "   ", "not a schedule", "10ms"} {
		_, err := ParseSchedule(spec)
		assert.Error(t, err, spec)
	}
}

func TestNewProbeScheduler_Validation(t *testing.T) {
	_, err := NewProbeScheduler(nil, "15m", zerolog.Nop())
	assert.Error(t, err)

	_, err = NewProbeScheduler(&countingProber{}, "bogus", zerolog.Nop())
	assert.Error(t, err)

	s, err := NewProbeScheduler(&countingProber{}, "15m", zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestProbeScheduler_SweepsUntilCancelled(t *testing.T) {
	prober := &countingProber{}
	s := newProbeScheduler(prober, everyMillis(5*time.Millisecond), "5ms", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return prober.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestProbeScheduler_SurvivesFailedSweep(t *testing.T) {
	prober := &countingProber{err: errors.New("store unavailable")}
	s := newProbeScheduler(prober, everyMillis(5*time.Millisecond), "5ms", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	require.Eventually(t, func() bool { return prober.calls.Load() >= 2 }, 2*time.Second, time.Millisecond)
}
