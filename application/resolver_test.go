package application

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testDiscoveryPath = "/api/sdk/cpid/ACME/lang/M_C/ver/2.0/env/prod"
	testDiscoveryBody = `{"baseUrl":"https://agent.example.com/api/2.0/agent/"}`
	testSyncBody      = `{"d":{"ds":0,"cpId":"ACME","dtg":"5a1b2c3d","at":2,"ee":0,"rc":0,` +
		`"p":{"n":"mqtt","h":"broker.example.com","p":8883,"id":"ACME-sensor-01",` +
		`"un":"broker.example.com/ACME-sensor-01","pwd":"","pub":"devices/sensor-01/messages/events/",` +
		`"sub":"devices/sensor-01/messages/devicebound/#"}}}`
	testSyncRequest = `{"cpId":"ACME","uniqueId":"sensor-01","option":{"attribute":false,"setting":false,` +
		`"protocol":true,"device":false,"sdkConfig":false,"rule":false}}`
)

func testDiscovery() *DiscoveryResult {
	return &DiscoveryResult{
		BaseURL: "https://agent.example.com/api/2.0/agent/",
		Host:    "agent.example.com",
		Path:    "/api/2.0/agent/",
	}
}

func newTestResolver(t *testing.T, client HTTPClient) *Resolver {
	t.Helper()

	r, err := NewResolver(ResolverParams{HTTPClient: client, Log: zerolog.Nop()})
	require.NoError(t, err)
	return r
}

func TestNewResolver_NilHTTPClient(t *testing.T) {
	_, err := NewResolver(ResolverParams{})
	require.Error(t, err)
}

func TestResolver_Discover(t *testing.T) {
	mClient := &MockHTTPClient{}
	mClient.On("Request", mock.Anything, DefaultDiscoveryHost, testDiscoveryPath, []byte(nil)).
		Return([]byte(testDiscoveryBody), nil).Once()

	r := newTestResolver(t, mClient)
	res, err := r.Discover(context.Background(), "ACME", "prod")
	require.NoError(t, err)
	assert.Equal(t, testDiscovery(), res)

	mClient.AssertExpectations(t)
}

func TestResolver_Discover_CustomHost(t *testing.T) {
	mClient := &MockHTTPClient{}
	mClient.On("Request", mock.Anything, "discovery.internal", testDiscoveryPath, []byte(nil)).
		Return([]byte(testDiscoveryBody), nil).Once()

	r, err := NewResolver(ResolverParams{HTTPClient: mClient, DiscoveryHost: "discovery.internal"})
	require.NoError(t, err)

	_, err = r.Discover(context.Background(), "ACME", "prod")
	require.NoError(t, err)

	mClient.AssertExpectations(t)
}

func TestResolver_Discover_Errors(t *testing.T) {
	transportErr := fmt.Errorf("failed to connect")

	tests := []struct {
		name    string
		body    []byte
		err     error
		wantErr error
	}{
		{name: "transport error", err: transportErr, wantErr: transportErr},
		{name: "empty body", body: []byte{}, wantErr: ErrNoResponse},
		{name: "noise before json", body: []byte("HTTP/1.1 200 OK\r\n\r\n" + testDiscoveryBody), wantErr: ErrNoJSONResponse},
		{name: "html error page", body: []byte("<html>bad gateway</html>"), wantErr: ErrNoJSONResponse},
		{name: "truncated json", body: []byte(`{"baseUrl":`), wantErr: ErrDiscoveryParse},
		{name: "missing base url", body: []byte(`{"status":"ok"}`), wantErr: ErrDiscoveryParse},
		{name: "base url without host", body: []byte(`{"baseUrl":"/api/2.0/agent/"}`), wantErr: ErrDiscoveryParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mClient := &MockHTTPClient{}
			mClient.On("Request", mock.Anything, DefaultDiscoveryHost, testDiscoveryPath, []byte(nil)).
				Return(tt.body, tt.err).Once()

			r := newTestResolver(t, mClient)
			res, err := r.Discover(context.Background(), "ACME", "prod")
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
		})
	}
}

func TestResolver_Sync(t *testing.T) {
	mClient := &MockHTTPClient{}
	mClient.On("Request", mock.Anything, "agent.example.com", "/api/2.0/agent/sync?", []byte(testSyncRequest)).
		Return([]byte(testSyncBody), nil).Once()

	r := newTestResolver(t, mClient)
	res, err := r.Sync(context.Background(), testDiscovery(), "ACME", "sensor-01")
	require.NoError(t, err)

	assert.Equal(t, &SyncResult{
		Status:         SyncStatusOK,
		CPID:           "ACME",
		DTG:            "5a1b2c3d",
		AuthType:       AuthTypeX509,
		BrokerHost:     "broker.example.com",
		BrokerPort:     8883,
		ClientID:       "ACME-sensor-01",
		Username:       "broker.example.com/ACME-sensor-01",
		PublishTopic:   "devices/sensor-01/messages/events/",
		SubscribeTopic: "devices/sensor-01/messages/devicebound/#",
	}, res)

	mClient.AssertExpectations(t)
}

func TestResolver_Sync_NoDiscovery(t *testing.T) {
	mClient := &MockHTTPClient{}

	r := newTestResolver(t, mClient)
	_, err := r.Sync(context.Background(), nil, "ACME", "sensor-01")
	require.ErrorIs(t, err, ErrNoDiscovery)

	mClient.AssertNotCalled(t, "Request", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolver_Sync_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "device not registered", body: `{"d":{"ds":1,"cpId":"ACME"}}`, wantErr: ErrSyncRejected},
		{name: "device inactive", body: `{"d":{"ds":4}}`, wantErr: ErrSyncRejected},
		{name: "ok without protocol", body: `{"d":{"ds":0,"cpId":"ACME"}}`, wantErr: ErrSyncRejected},
		{name: "ok without publish topic", body: `{"d":{"ds":0,"cpId":"ACME","p":{"h":"broker.example.com","sub":"c2d"}}}`, wantErr: ErrSyncRejected},
		{name: "missing d", body: `{"status":200}`, wantErr: ErrSyncRejected},
		{name: "noise before json", body: "garbage" + testSyncBody, wantErr: ErrNoJSONResponse},
		{name: "empty body", body: "", wantErr: ErrNoResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mClient := &MockHTTPClient{}
			mClient.On("Request", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return([]byte(tt.body), nil).Once()

			r := newTestResolver(t, mClient)
			res, err := r.Sync(context.Background(), testDiscovery(), "ACME", "sensor-01")
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
		})
	}
}

func TestParseSyncResponse(t *testing.T) {
	tests := []struct {
		body string
		want SyncStatus
	}{
		{body: testSyncBody, want: SyncStatusOK},
		{body: `{"d":{"ds":1}}`, want: SyncStatusDeviceNotRegistered},
		{body: `{"d":{"ds":2}}`, want: SyncStatusAutoRegister},
		{body: `{"d":{"ds":3}}`, want: SyncStatusDeviceNotFound},
		{body: `{"d":{"ds":4}}`, want: SyncStatusDeviceInactive},
		{body: `{"d":{"ds":5}}`, want: SyncStatusDeviceMoved},
		{body: `{"d":{"ds":6}}`, want: SyncStatusCPIDNotFound},
		{body: `{"d":{"ds":42}}`, want: SyncStatusUnknownDeviceStatus},
		{body: `{"d":{"ds":0,"p":{"h":""}}}`, want: SyncStatusParsingError},
		{body: `{"d":{"ds":0,"p":{"h":"broker.example.com","pub":""}}}`, want: SyncStatusParsingError},
		{body: `{"d":null}`, want: SyncStatusParsingError},
		{body: `{"d":{"ds":"zero"}}`, want: SyncStatusParsingError},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			res := ParseSyncResponse([]byte(tt.body))
			require.NotNil(t, res)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestParseSyncResponse_PartialRecord(t *testing.T) {
	res := ParseSyncResponse([]byte(`{"d":{"ds":1,"cpId":"ACME","p":{"h":"broker.example.com","pub":"t"}}}`))

	assert.Equal(t, SyncStatusDeviceNotRegistered, res.Status)
	assert.Empty(t, res.BrokerHost)
	assert.Empty(t, res.PublishTopic)
}
