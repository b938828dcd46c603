package application

import "time"

type MQTTStatus struct {
	MessageCount      uint64
	LastTimePublished time.Time
	Connected         bool
}

// MQTTConnParams describes the broker identity and credentials for one session.
type MQTTConnParams struct {
	Host     string
	Port     int
	ClientID string
	Username string

	Auth       AuthInfo
	RootCAFile string
}

// MQTTEventHandler receives asynchronous events from the transport's own
// goroutines.
type MQTTEventHandler interface {
	OnConnectionLost(err error)
	OnMessage(topic string, payload []byte)
}

// MQTTConn is a single broker connection. Every call is one attempt, retry
// policy belongs to the caller.
type MQTTConn interface {
	Connect() error
	Subscribe(topic string, qos byte) error
	Publish(topic string, qos byte, payload []byte) error
	Disconnect() error
	Close() error
}

type MQTTTransport interface {
	NewConn(params MQTTConnParams, handler MQTTEventHandler) (MQTTConn, error)
}
