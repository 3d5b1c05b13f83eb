package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		RegistryIdentifiedUsers,
		RegistryHandles,
		RegistryCommandChannelDepth,
		BroadcastDeliveriesTotal,
		RegistryPanicsTotal,
		RegistryStopTimeoutsTotal,
		WebSocketConnectionsCurrent,
		WebSocketConnectionsTotal,
		WebSocketConnectionDuration,
		WebSocketMessageSendDuration,
		HeartbeatFailuresTotal,
		ReadingsAcceptedTotal,
		CooldownRejectionsTotal,
		DispatchDuration,
		SummaryDuration,
		SummaryErrorsTotal,
		DecoratorRequestsTotal,
		CircuitBreakerState,
		DBQueryDuration,
		DBErrorsTotal,
		RedisCommandsTotal,
		RedisCommandDuration,
		RedisDialErrorsTotal,
		SessionOpsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPErrorsTotal,
		RateLimitedTotal,
	}
}

func TestMetricsRegistration(t *testing.T) {
	for _, c := range allCollectors() {
		assert.NotNil(t, c)
	}
}

func TestCounterMetrics(t *testing.T) {
	before := testutil.ToFloat64(ReadingsAcceptedTotal.WithLabelValues("regular"))
	ReadingsAcceptedTotal.WithLabelValues("regular").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ReadingsAcceptedTotal.WithLabelValues("regular")))

	before = testutil.ToFloat64(HeartbeatFailuresTotal)
	HeartbeatFailuresTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(HeartbeatFailuresTotal))
}

func TestGaugeMetrics(t *testing.T) {
	RegistryHandles.WithLabelValues("anonymous").Set(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(RegistryHandles.WithLabelValues("anonymous")))

	RegistryIdentifiedUsers.Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(RegistryIdentifiedUsers))
}

func TestHistogramMetrics(t *testing.T) {
	DispatchDuration.Observe(0.01)
	DBQueryDuration.WithLabelValues("SELECT").Observe(0.002)

	count := testutil.CollectAndCount(DBQueryDuration)
	assert.GreaterOrEqual(t, count, 1)
}

func TestMetricNaming(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	for _, c := range allCollectors() {
		require.NoError(t, reg.Register(c))
	}

	// Touch every vec so Gather emits it.
	BroadcastDeliveriesTotal.WithLabelValues("delivered")
	WebSocketConnectionsTotal.WithLabelValues("public", "accepted")
	CooldownRejectionsTotal.WithLabelValues("regular")
	DecoratorRequestsTotal.WithLabelValues("ok")
	CircuitBreakerState.WithLabelValues("decorator")
	DBErrorsTotal.WithLabelValues("INSERT")
	SessionOpsTotal.WithLabelValues("create", "success")
	RedisCommandsTotal.WithLabelValues("get", "success")
	RedisCommandDuration.WithLabelValues("get")
	HTTPRequestsTotal.WithLabelValues("GET", "/api/summary", "200")
	HTTPErrorsTotal.WithLabelValues("validation")
	RateLimitedTotal.WithLabelValues("/api/stress")

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		name := mf.GetName()
		assert.Equal(t, strings.ToLower(name), name)
		if mf.GetType().String() == "COUNTER" {
			assert.True(t, strings.HasSuffix(name, "_total"), "counter %s should end in _total", name)
		}
	}
}
