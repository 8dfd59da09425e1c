package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTickCountsErrorsOnly(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	ObserveTick("m-test", "fills", at, nil)
	ObserveTick("m-test", "fills", at, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(tickErrors.WithLabelValues("m-test", "fills")))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(lastTick.WithLabelValues("m-test", "fills")))
}

func TestHandlerExposesCounters(t *testing.T) {
	IncSignal("m-test", "entry", "filled")
	IncOrder("m-test", "limit", "ok")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `hlfleet_signals_processed_total{identity="m-test",kind="entry",outcome="filled"} 1`)
	assert.Contains(t, body, `hlfleet_orders_total{identity="m-test",kind="limit",outcome="ok"} 1`)
}

func TestBreakerStateGauge(t *testing.T) {
	SetBreakerState("m-test", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("m-test")))
	SetBreakerState("m-test", 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("m-test")))
}
