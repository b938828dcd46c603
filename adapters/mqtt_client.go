package adapters

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync/atomic"
	"time"

	"iotc-device-client/application"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	MQTTDefaultConnectTimeout    = 30 * time.Second
	MQTTDefaultPublishTimeout    = 5 * time.Second
	MQTTDefaultSubscribeTimeout  = 5 * time.Second
	MQTTDefaultKeepAlive         = 60 * time.Second
	MQTTDefaultDisconnectQuiesce = 250 * time.Millisecond

	subackFailure = 0x80
)

var (
	ErrMQTTNotConnected      = fmt.Errorf("not connected")
	ErrMQTTConnectTimeout    = fmt.Errorf("connect timeout")
	ErrMQTTPublishTimeout    = fmt.Errorf("publish timeout")
	ErrMQTTSubscribeTimeout  = fmt.Errorf("subscribe timeout")
	ErrMQTTSubscribeRejected = fmt.Errorf("subscription rejected by broker")
	ErrMQTTClosed            = fmt.Errorf("client closed")
	ErrMQTTTLSConfig         = fmt.Errorf("invalid tls configuration")
	ErrMQTTNoRootCA          = fmt.Errorf("no root ca configured")
)

type MQTTClientParams struct {
	// RootCAs takes precedence over the connection's RootCAFile. One of them
	// is required.
	RootCAs *x509.CertPool

	KeepAlive         time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	SubscribeTimeout  time.Duration
	DisconnectQuiesce time.Duration

	NewClientFunc func(options *mqtt.ClientOptions) mqtt.Client

	Log zerolog.Logger
}

func (m *MQTTClientParams) EnsureDefaults() {
	if m.KeepAlive == 0 {
		m.KeepAlive = MQTTDefaultKeepAlive
	}

	if m.ConnectTimeout == 0 {
		m.ConnectTimeout = MQTTDefaultConnectTimeout
	}

	if m.PublishTimeout == 0 {
		m.PublishTimeout = MQTTDefaultPublishTimeout
	}

	if m.SubscribeTimeout == 0 {
		m.SubscribeTimeout = MQTTDefaultSubscribeTimeout
	}

	if m.DisconnectQuiesce == 0 {
		m.DisconnectQuiesce = MQTTDefaultDisconnectQuiesce
	}

	if m.NewClientFunc == nil {
		m.NewClientFunc = mqtt.NewClient
	}
}

// MQTTTransport creates paho backed connections, one per session.
type MQTTTransport struct {
	params MQTTClientParams

	log zerolog.Logger
}

func NewMQTTTransport(params MQTTClientParams) *MQTTTransport {
	params.EnsureDefaults()
	return &MQTTTransport{params: params, log: params.Log}
}

func (t *MQTTTransport) NewConn(p application.MQTTConnParams, handler application.MQTTEventHandler) (application.MQTTConn, error) {
	if p.Host == "" {
		return nil, fmt.Errorf("broker host is empty")
	}

	tlsConfig, err := t.tlsConfig(p)
	if err != nil {
		t.log.Error().Err(err).Msg("unable to set up mqtt tls")
		return nil, fmt.Errorf("%w: %w", ErrMQTTTLSConfig, err)
	}

	m := &MQTTClient{
		params:  t.params,
		conn:    p,
		handler: handler,
		log:     t.log.With().Str("client_id", p.ClientID).Logger(),
	}

	tm := time.Unix(0, 0)
	m.msgCountUpdateTime.Store(&tm)

	m.client = t.params.NewClientFunc(m.options(tlsConfig))
	return m, nil
}

func (t *MQTTTransport) tlsConfig(p application.MQTTConnParams) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tlsMinVersion,
		RootCAs:    t.params.RootCAs,
		ServerName: p.Host,
	}

	if cfg.RootCAs == nil {
		if p.RootCAFile == "" {
			return nil, ErrMQTTNoRootCA
		}
		pool, err := loadCertPool(p.RootCAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if p.Auth.Type == application.AuthTypeX509 {
		cert, err := tls.LoadX509KeyPair(p.Auth.DeviceCert, p.Auth.DeviceKey)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// MQTTClient is a single broker connection. It does no retrying of its own.
type MQTTClient struct {
	params MQTTClientParams
	conn   application.MQTTConnParams

	handler application.MQTTEventHandler
	client  mqtt.Client

	connected          uint64
	closed             uint64
	msgCount           uint64
	msgCountUpdateTime atomic.Pointer[time.Time]

	log zerolog.Logger
}

func (m *MQTTClient) Connect() error {
	if m.isClosed() {
		return ErrMQTTClosed
	}
	if m.IsConnected() {
		return nil
	}

	token := m.client.Connect()
	if err := waitToken(token, m.params.ConnectTimeout, ErrMQTTConnectTimeout); err != nil {
		return err
	}

	atomic.StoreUint64(&m.connected, 1)
	return nil
}

func (m *MQTTClient) IsConnected() bool {
	return atomic.LoadUint64(&m.connected) == 1
}

func (m *MQTTClient) isClosed() bool {
	return atomic.LoadUint64(&m.closed) == 1
}

func (m *MQTTClient) Status() application.MQTTStatus {
	return application.MQTTStatus{
		MessageCount:      atomic.LoadUint64(&m.msgCount),
		LastTimePublished: *m.msgCountUpdateTime.Load(),
		Connected:         m.IsConnected(),
	}
}

func (m *MQTTClient) Subscribe(topic string, qos byte) error {
	if m.isClosed() {
		return ErrMQTTClosed
	}
	if !m.IsConnected() {
		return ErrMQTTNotConnected
	}

	token := m.client.Subscribe(topic, qos, m.onMessage)
	if err := waitToken(token, m.params.SubscribeTimeout, ErrMQTTSubscribeTimeout); err != nil {
		return err
	}

	if st, ok := token.(interface{ Result() map[string]byte }); ok {
		if code, found := st.Result()[topic]; found && code == subackFailure {
			return ErrMQTTSubscribeRejected
		}
	}
	return nil
}

func (m *MQTTClient) Publish(topic string, qos byte, payload []byte) error {
	if m.isClosed() {
		return ErrMQTTClosed
	}
	if !m.IsConnected() {
		return ErrMQTTNotConnected
	}

	token := m.client.Publish(topic, qos, false, payload)
	if err := waitToken(token, m.params.PublishTimeout, ErrMQTTPublishTimeout); err != nil {
		return err
	}

	t := time.Now()
	m.msgCountUpdateTime.Store(&t)
	atomic.AddUint64(&m.msgCount, 1)
	return nil
}

// Disconnect closes the broker connection. It is a no-op when not connected.
func (m *MQTTClient) Disconnect() error {
	if m.isClosed() {
		return ErrMQTTClosed
	}
	if atomic.CompareAndSwapUint64(&m.connected, 1, 0) {
		m.client.Disconnect(uint(m.params.DisconnectQuiesce.Milliseconds()))
		m.log.Info().Msg("disconnected")
	}
	return nil
}

// Close releases the client. Events arriving after Close are dropped.
func (m *MQTTClient) Close() error {
	if !atomic.CompareAndSwapUint64(&m.closed, 0, 1) {
		return ErrMQTTClosed
	}
	if atomic.CompareAndSwapUint64(&m.connected, 1, 0) {
		m.client.Disconnect(0)
	}
	return nil
}

func (m *MQTTClient) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if m.isClosed() {
		return
	}

	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	m.handler.OnMessage(msg.Topic(), payload)
}

func (m *MQTTClient) OnConnect(_ mqtt.Client) {
	m.log.Info().Msg("connected")
}

func (m *MQTTClient) OnConnectionLost(_ mqtt.Client, err error) {
	m.log.Info().Msgf("connect lost: %v", err)
	atomic.StoreUint64(&m.connected, 0)
	if m.isClosed() {
		return
	}
	m.handler.OnConnectionLost(err)
}

func (m *MQTTClient) options(tlsConfig *tls.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(fmt.Sprintf("ssl://%s:%d", m.conn.Host, m.conn.Port))
	opts.SetClientID(m.conn.ClientID)
	// token auth connects without a password
	opts.SetUsername(m.conn.Username)
	opts.SetTLSConfig(tlsConfig)

	opts.SetCleanSession(true)
	opts.SetKeepAlive(m.params.KeepAlive)
	opts.SetConnectTimeout(m.params.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(false)

	opts.SetDefaultPublishHandler(m.onMessage)
	opts.OnConnect = m.OnConnect
	opts.OnConnectionLost = m.OnConnectionLost

	return opts
}

func waitToken(token mqtt.Token, timeout time.Duration, timeoutErr error) error {
	tc := time.NewTimer(timeout)
	defer tc.Stop()

	select {
	case <-tc.C:
		return timeoutErr
	case <-token.Done():
		return token.Error()
	}
}

var (
	_ application.MQTTTransport = &MQTTTransport{}
	_ application.MQTTConn      = &MQTTClient{}
)
