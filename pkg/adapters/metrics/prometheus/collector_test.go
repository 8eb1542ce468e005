package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/aescanero/dago-studio/internal/ports"
)

var _ ports.MetricsCollector = (*Collector)(nil)

func TestCollector_Runs(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordRunStarted()
	c.RecordRunStarted()
	c.RecordRunFinished("completed", 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.runDuration))
}

func TestCollector_Counters(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordValidation(true)
	c.RecordValidation(false)
	c.RecordValidation(false)
	c.RecordNodeResult("click", "completed")
	c.RecordCommand("start", true)
	c.RecordCommand("pause", false)
	c.RecordMessageReceived("node_status")
	c.RecordReconnectAttempt()
	c.RecordHeartbeatTimeout()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.validations.WithLabelValues("valid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.validations.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeResults.WithLabelValues("click", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commands.WithLabelValues("pause", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesReceived.WithLabelValues("node_status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.heartbeatTimeout))
}

func TestCollector_ConnectionStatusIsExclusive(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.SetConnectionStatus("connected")
	c.SetConnectionStatus("reconnecting")

	assert.Equal(t, 0.0, testutil.ToFloat64(c.connectionStatus.WithLabelValues("connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionStatus.WithLabelValues("reconnecting")))
	assert.Equal(t, len(connectionStatuses), testutil.CollectAndCount(c.connectionStatus))
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
		NewCollector(prometheus.NewRegistry())
	})
}
