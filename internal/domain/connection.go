package domain

import "time"

// ConnectionStatus is the state of the channel to the execution backend
type ConnectionStatus string

const (
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusReconnecting ConnectionStatus = "reconnecting"
	ConnectionStatusError        ConnectionStatus = "error"
)

// ConnectionRecord is the observable state of the channel
type ConnectionRecord struct {
	Status           ConnectionStatus `json:"status"`
	ReconnectAttempt int              `json:"reconnectAttempt"`
	LastError        string           `json:"lastError,omitempty"`
	LastPongTime     time.Time        `json:"lastPongTime"`
	MissedPongs      int              `json:"missedPongs"`
	NextRetryDelay   time.Duration    `json:"nextRetryDelay,omitempty"`
	ConnectedAt      time.Time        `json:"connectedAt"`
}
