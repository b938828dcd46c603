package application

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type MockMQTTTransport struct {
	mock.Mock
}

func (m *MockMQTTTransport) NewConn(params MQTTConnParams, handler MQTTEventHandler) (MQTTConn, error) {
	args := m.Called(params, handler)

	var conn MQTTConn
	if connInt := args.Get(0); connInt != nil {
		conn = connInt.(MQTTConn)
	}
	return conn, args.Error(1)
}

var _ MQTTTransport = &MockMQTTTransport{}

type MockMQTTConn struct {
	mock.Mock
}

func (m *MockMQTTConn) Connect() error {
	return m.Called().Error(0)
}

func (m *MockMQTTConn) Subscribe(topic string, qos byte) error {
	return m.Called(topic, qos).Error(0)
}

func (m *MockMQTTConn) Publish(topic string, qos byte, payload []byte) error {
	return m.Called(topic, qos, payload).Error(0)
}

func (m *MockMQTTConn) Disconnect() error {
	return m.Called().Error(0)
}

func (m *MockMQTTConn) Close() error {
	return m.Called().Error(0)
}

var _ MQTTConn = &MockMQTTConn{}

type MockHTTPClient struct {
	mock.Mock
}

func (m *MockHTTPClient) Request(ctx context.Context, host, path string, body []byte) ([]byte, error) {
	args := m.Called(ctx, host, path, body)

	var resp []byte
	if respInt := args.Get(0); respInt != nil {
		resp = respInt.([]byte)
	}
	return resp, args.Error(1)
}

var _ HTTPClient = &MockHTTPClient{}

type MockSessionManager struct {
	mock.Mock
}

func (m *MockSessionManager) Init(ctx context.Context, cfg SessionConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *MockSessionManager) Publish(payload []byte, qos byte) error {
	return m.Called(payload, qos).Error(0)
}

func (m *MockSessionManager) Disconnect() error {
	return m.Called().Error(0)
}

func (m *MockSessionManager) IsConnected() bool {
	return m.Called().Bool(0)
}

var _ SessionManager = &MockSessionManager{}

type MockSyncResolver struct {
	mock.Mock
}

func (m *MockSyncResolver) Discover(ctx context.Context, cpid, env string) (*DiscoveryResult, error) {
	args := m.Called(ctx, cpid, env)

	var res *DiscoveryResult
	if resInt := args.Get(0); resInt != nil {
		res = resInt.(*DiscoveryResult)
	}
	return res, args.Error(1)
}

func (m *MockSyncResolver) Sync(ctx context.Context, discovery *DiscoveryResult, cpid, duid string) (*SyncResult, error) {
	args := m.Called(ctx, discovery, cpid, duid)

	var res *SyncResult
	if resInt := args.Get(0); resInt != nil {
		res = resInt.(*SyncResult)
	}
	return res, args.Error(1)
}

var _ SyncResolver = &MockSyncResolver{}

type MockSyncCache struct {
	mock.Mock
}

func (m *MockSyncCache) Load(ctx context.Context, cpid, duid string) (*SyncResult, error) {
	args := m.Called(ctx, cpid, duid)

	var res *SyncResult
	if resInt := args.Get(0); resInt != nil {
		res = resInt.(*SyncResult)
	}
	return res, args.Error(1)
}

func (m *MockSyncCache) Store(ctx context.Context, cpid, duid string, result *SyncResult) error {
	return m.Called(ctx, cpid, duid, result).Error(0)
}

func (m *MockSyncCache) Invalidate(ctx context.Context, cpid, duid string) error {
	return m.Called(ctx, cpid, duid).Error(0)
}

var _ SyncCache = &MockSyncCache{}

// recordingListener keeps every callback it receives.
type recordingListener struct {
	mu       sync.Mutex
	statuses []ConnectionStatus
	messages [][]byte
}

func (r *recordingListener) OnStatusChange(status ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingListener) OnMessage(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, payload)
}

func (r *recordingListener) Statuses() []ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionStatus(nil), r.statuses...)
}

func (r *recordingListener) Messages() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.messages...)
}

var _ Listener = &recordingListener{}
