package ws

import "time"

// Client-to-server message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
)

// Server-to-client message types.
const (
	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypePong         = "pong"
	TypeError        = "error"
	TypeMetrics      = "metrics"
	TypeAlert        = "alert"
	TypeDeviceStatus = "device_status"
	TypeExecution    = "execution"
)

// Well-known topics.
const (
	TopicAlerts     = "alerts"
	TopicDevices    = "devices"
	TopicExecutions = "executions"
)

// InboundMessage is a client request: a subscription change or a ping.
type InboundMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId,omitempty"`
	Topic    string `json:"topic,omitempty"`
}

// OutboundMessage is the envelope for everything the server sends.
type OutboundMessage struct {
	Type      string `json:"type"`
	ClientID  string `json:"clientId,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Status    string `json:"status,omitempty"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
