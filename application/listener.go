package application

// Listener is notified of connection status changes and inbound cloud to
// device messages. Methods are called from transport goroutines and must not
// block for long.
type Listener interface {
	OnStatusChange(status ConnectionStatus)
	OnMessage(payload []byte)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Status  func(status ConnectionStatus)
	Message func(payload []byte)
}

func (l ListenerFuncs) OnStatusChange(status ConnectionStatus) {
	if l.Status != nil {
		l.Status(status)
	}
}

func (l ListenerFuncs) OnMessage(payload []byte) {
	if l.Message != nil {
		l.Message(payload)
	}
}

var _ Listener = ListenerFuncs{}
