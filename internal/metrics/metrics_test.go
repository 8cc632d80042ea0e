package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		ExchangesTotal,
		ExchangeDuration,
		ExchangeWaiters,
		GuardAttemptsTotal,
		GuardRetriesTotal,
		GuardOutcomesTotal,
		SessionTransitionsTotal,
		StreamSubscribers,
		InferenceRequestDuration,
	}

	for _, c := range collectors {
		err := prometheus.Register(c)
		var already prometheus.AlreadyRegisteredError
		require.ErrorAs(t, err, &already, "collector should already be registered by promauto")
	}
}

func TestCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(GuardOutcomesTotal.WithLabelValues("ok"))
	GuardOutcomesTotal.WithLabelValues("ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(GuardOutcomesTotal.WithLabelValues("ok")))
}

func TestGatherCountsUnlabelledCollectors(t *testing.T) {
	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer,
		"hseai_guard_retries_total",
		"hseai_credential_exchange_shared_total",
		"hseai_state_stream_subscribers",
	)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
