package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"evergreen/core/events"
)

func TestEventsEmitterCountsTransfers(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.transfers.WithLabelValues("USDT"))
	emitted := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeTransfer))

	m.Emit(events.Transfer{Asset: "usdt"})
	m.Emit(events.MatrixCycle{Level: 1})

	require.Equal(t, before+1, testutil.ToFloat64(m.transfers.WithLabelValues("USDT")))
	require.Equal(t, emitted+1, testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeTransfer)))
}

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	before := testutil.ToFloat64(m.errors.WithLabelValues("matrix", "register", "400"))
	m.Observe("matrix", "register", 400, 5*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.errors.WithLabelValues("matrix", "register", "400")))

	throttles := testutil.ToFloat64(m.throttles.WithLabelValues("rpc", "rate_limit"))
	m.RecordThrottle("rpc", "rate_limit")
	require.Equal(t, throttles+1, testutil.ToFloat64(m.throttles.WithLabelValues("rpc", "rate_limit")))
}
