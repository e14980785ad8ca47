package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		polls  int
		check  CheckFunc
		status int
		body   string
	}{
		{
			name:   "passing",
			polls:  1,
			check:  passing,
			status: http.StatusOK,
			body:   `{"status":"ok"}`,
		},
		{
			name:   "healthy before first poll",
			polls:  0,
			check:  failing("down"),
			status: http.StatusOK,
			body:   `{"status":"ok"}`,
		},
		{
			name:   "below threshold",
			polls:  failureThreshold - 1,
			check:  failing("down"),
			status: http.StatusOK,
			body:   `{"status":"ok"}`,
		},
		{
			name:   "at threshold",
			polls:  failureThreshold,
			check:  failing("connection refused"),
			status: http.StatusServiceUnavailable,
			body:   `{"status":"unhealthy","checks":{"db":"connection refused"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("db", time.Second, tt.check)
			for range tt.polls {
				h.Poll(context.Background())
			}

			w := serve(t, h.LiveEndpoint)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("cache", time.Second, passing)
	h.AddLivenessCheck("broken", time.Second, failing("ignored by readiness"))
	for range failureThreshold {
		h.Poll(context.Background())
	}

	w := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())
	assert.False(t, h.IsReady())

	h.SetReady(true)
	w = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestRecovery(t *testing.T) {
	var healthy atomic.Bool
	h := New()
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("no route to host")
	})
	h.SetReady(true)

	for range failureThreshold {
		h.Poll(context.Background())
	}
	require.False(t, h.IsReady())

	w := serve(t, h.ReadyEndpoint)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"postgres":"no route to host"}}`, w.Body.String())

	healthy.Store(true)
	h.Poll(context.Background())
	assert.True(t, h.IsReady())
}

func TestPollTimeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.SetReady(true)

	for range failureThreshold {
		h.Poll(context.Background())
	}
	assert.False(t, h.IsReady())
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.AddLivenessCheck("count", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	h.Start(context.Background(), time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	h.Stop()
	h.Stop()

	stopped := calls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckers(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1<<20)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))

	assert.NoError(t, PingCheck("db", pingerFunc(passing))(context.Background()))
	err := PingCheck("db", pingerFunc(failing("refused")))(context.Background())
	assert.EqualError(t, err, "ping db: refused")
}
