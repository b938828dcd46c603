package adapters

import (
	"sync"
	"time"

	"iotc-device-client/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) IsConnectionOpen() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	return m.Called().Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return m.Called(topic, qos, retained, payload).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(topic, qos, callback).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(filters, callback).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	return m.Called(topics).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	return m.Called().Get(0).(mqtt.ClientOptionsReader)
}

var _ mqtt.Client = &MockMQTTClient{}

type MockToken struct {
	mock.Mock
}

func (m *MockToken) Wait() bool {
	return m.Called().Bool(0)
}

func (m *MockToken) WaitTimeout(d time.Duration) bool {
	return m.Called(d).Bool(0)
}

func (m *MockToken) Done() <-chan struct{} {
	return m.Called().Get(0).(<-chan struct{})
}

func (m *MockToken) Error() error {
	return m.Called().Error(0)
}

var _ mqtt.Token = &MockToken{}

// MockSubscribeToken adds the SUBACK result a paho subscribe token carries.
type MockSubscribeToken struct {
	MockToken
}

func (m *MockSubscribeToken) Result() map[string]byte {
	return m.Called().Get(0).(map[string]byte)
}

var _ mqtt.Token = &MockSubscribeToken{}

type MockMessage struct {
	mock.Mock
}

func (m *MockMessage) Duplicate() bool {
	return m.Called().Bool(0)
}

func (m *MockMessage) Qos() byte {
	return m.Called().Get(0).(byte)
}

func (m *MockMessage) Retained() bool {
	return m.Called().Bool(0)
}

func (m *MockMessage) Topic() string {
	return m.Called().String(0)
}

func (m *MockMessage) MessageID() uint16 {
	return m.Called().Get(0).(uint16)
}

func (m *MockMessage) Payload() []byte {
	return m.Called().Get(0).([]byte)
}

func (m *MockMessage) Ack() {
	m.Called()
}

var _ mqtt.Message = &MockMessage{}

type MockMQTTEventHandler struct {
	mock.Mock
}

func (m *MockMQTTEventHandler) OnConnectionLost(err error) {
	m.Called(err)
}

func (m *MockMQTTEventHandler) OnMessage(topic string, payload []byte) {
	m.Called(topic, payload)
}

var _ application.MQTTEventHandler = &MockMQTTEventHandler{}

var (
	closedChanOnce sync.Once
	closedChan     chan struct{}
)

// doneChan returns a closed channel, the Done value of a completed token.
func doneChan() <-chan struct{} {
	closedChanOnce.Do(func() {
		closedChan = make(chan struct{})
		close(closedChan)
	})
	return closedChan
}

// pendingChan never closes.
func pendingChan() <-chan struct{} {
	return make(chan struct{})
}
