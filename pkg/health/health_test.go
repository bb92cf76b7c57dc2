package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPinger struct {
	err error
	// calls is read while the supervisor goroutine runs.
	calls atomic.Int32
}

func (p *flakyPinger) Ping(context.Context) error {
	p.calls.Add(1)
	return p.err
}

func evalTimes(r *Registry, n int) {
	for i := 0; i < n; i++ {
		r.evalOnce(context.Background())
	}
}

func TestReady_RequiresManualFlag(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Ready(), "fresh registry must not accept traffic")

	r.SetReady(true)
	assert.True(t, r.Ready())

	r.SetReady(false)
	assert.False(t, r.Ready())
}

func TestReadinessCheck_TripsAfterConsecutiveFailures(t *testing.T) {
	db := &flakyPinger{err: errors.New("connection refused")}
	r := NewRegistry()
	r.Readiness("postgres", time.Second, DatabaseCheck(db))
	r.SetReady(true)

	evalTimes(r, failureTolerance-1)
	assert.True(t, r.Ready(), "failures below the tolerance must not trip the check")

	evalTimes(r, 1)
	assert.False(t, r.Ready())
	assert.EqualValues(t, failureTolerance, db.calls.Load())
}

func TestReadinessCheck_RecoversOnFirstSuccess(t *testing.T) {
	db := &flakyPinger{err: errors.New("connection refused")}
	r := NewRegistry()
	r.Readiness("postgres", time.Second, DatabaseCheck(db))
	r.SetReady(true)

	evalTimes(r, failureTolerance)
	require.False(t, r.Ready())

	db.err = nil
	evalTimes(r, 1)
	assert.True(t, r.Ready())
}

func TestReadinessCheck_FailureStreakResetsOnSuccess(t *testing.T) {
	db := &flakyPinger{err: errors.New("connection refused")}
	r := NewRegistry()
	r.Readiness("postgres", time.Second, DatabaseCheck(db))
	r.SetReady(true)

	evalTimes(r, failureTolerance-1)
	db.err = nil
	evalTimes(r, 1)
	db.err = errors.New("connection refused")
	evalTimes(r, failureTolerance-1)

	assert.True(t, r.Ready(), "the streak restarts after an intervening success")
}

func TestLiveHandler_ReportsFailingCheck(t *testing.T) {
	r := NewRegistry()
	r.Liveness("goroutines", time.Second, func(context.Context) error {
		return errors.New("too many")
	})
	evalTimes(r, failureTolerance)

	rec := httptest.NewRecorder()
	r.LiveHandler(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"goroutines":"too many"`)
}

func TestLiveHandler_OKWhileChecksHold(t *testing.T) {
	r := NewRegistry()
	r.Liveness("goroutines", time.Second, GoroutineCheck(runtime.NumGoroutine()+100))
	evalTimes(r, 1)

	rec := httptest.NewRecorder()
	r.LiveHandler(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestReadyHandler_NotReadyBeforeStartupCompletes(t *testing.T) {
	r := NewRegistry()

	rec := httptest.NewRecorder()
	r.ReadyHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not accepting traffic")
}

func TestReadyHandler_LivenessDoesNotGateReadiness(t *testing.T) {
	r := NewRegistry()
	r.Liveness("goroutines", time.Second, func(context.Context) error {
		return errors.New("too many")
	})
	r.SetReady(true)
	evalTimes(r, failureTolerance)

	rec := httptest.NewRecorder()
	r.ReadyHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGoroutineCheck(t *testing.T) {
	require.NoError(t, GoroutineCheck(runtime.NumGoroutine()+100)(context.Background()))
	require.Error(t, GoroutineCheck(0)(context.Background()))
}

func TestRunAndClose(t *testing.T) {
	db := &flakyPinger{}
	r := NewRegistry()
	r.Readiness("postgres", time.Second, DatabaseCheck(db))

	r.Run(context.Background(), time.Hour)
	r.Close()
	r.Close() // idempotent

	assert.Eventually(t, func() bool { return db.calls.Load() >= 1 }, time.Second, 5*time.Millisecond,
		"the supervisor evaluates once before the first tick")
}
