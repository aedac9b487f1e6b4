package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CommandRun(1, "start")
	m.CommandRun(1, "start")
	m.BusySkipped(1)
	m.OrderPlaced(2)
	m.SmartTradeCreated(2)
	m.TriggerHandled("candle_closed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("1", "start")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusySkips.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersPlaced.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesCreated.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Triggers.WithLabelValues("candle_closed")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.OrderFilled(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `bot_orders_filled_total{bot_id="3"} 1`))
}
