package ports

import "time"

// MetricsCollector records studio metrics
type MetricsCollector interface {
	RecordValidation(valid bool)
	RecordRunStarted()
	RecordRunFinished(status string, duration time.Duration)
	RecordNodeResult(nodeType, status string)
	RecordCommand(command string, ok bool)
	RecordMessageReceived(messageType string)
	RecordReconnectAttempt()
	RecordHeartbeatTimeout()
	SetConnectionStatus(status string)
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordValidation(bool)                   {}
func (NopMetrics) RecordRunStarted()                       {}
func (NopMetrics) RecordRunFinished(string, time.Duration) {}
func (NopMetrics) RecordNodeResult(string, string)         {}
func (NopMetrics) RecordCommand(string, bool)              {}
func (NopMetrics) RecordMessageReceived(string)            {}
func (NopMetrics) RecordReconnectAttempt()                 {}
func (NopMetrics) RecordHeartbeatTimeout()                 {}
func (NopMetrics) SetConnectionStatus(string)              {}
