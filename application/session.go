package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBrokerPort = 8883

	maxQoS = 2
)

var (
	ErrNotConnected    = fmt.Errorf("mqtt is not connected")
	ErrInvalidQoS      = fmt.Errorf("invalid qos level (must be 0, 1 or 2)")
	ErrNoPublishTopic  = fmt.Errorf("sync result has no publish topic")
	ErrSessionBusy     = fmt.Errorf("session initialization already in progress")
	ErrSessionAborted  = fmt.Errorf("session disconnected during initialization")
	ErrSessionCreate   = fmt.Errorf("failed to create the mqtt client")
	ErrConnectFailed   = fmt.Errorf("mqtt connection failed")
	ErrSubscribeFailed = fmt.Errorf("failed to subscribe to the mqtt topic")
)

type SessionState int

const (
	StateUninitialized SessionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "uninitialized"
	}
}

// SessionManager is the part of Session the device client depends on.
type SessionManager interface {
	Init(ctx context.Context, cfg SessionConfig) error
	Publish(payload []byte, qos byte) error
	Disconnect() error
	IsConnected() bool
}

// SessionConfig is built by the device client from the current sync result.
type SessionConfig struct {
	Sync         *SyncResult
	Auth         AuthInfo
	CommandTopic string
	RootCAFile   string

	Listener Listener
}

type SessionParams struct {
	Transport MQTTTransport

	ConnectRetry   RetryPolicy
	SubscribeRetry RetryPolicy
	SubscribeQoS   byte

	Sleep SleepFunc

	Log zerolog.Logger
}

func (s *SessionParams) EnsureDefaults() {
	if s.ConnectRetry.Attempts <= 0 {
		s.ConnectRetry = DefaultConnectRetry
	}
	if s.SubscribeRetry.Attempts <= 0 {
		s.SubscribeRetry = DefaultSubscribeRetry
	}
	if s.SubscribeQoS == 0 {
		s.SubscribeQoS = 1
	}
	if s.Sleep == nil {
		s.Sleep = SleepContext
	}
}

// Session owns one live MQTT session. Inbound events and the public
// operations may run on different goroutines, mu guards every transition.
type Session struct {
	params SessionParams

	mu           sync.Mutex
	state        SessionState
	conn         MQTTConn
	publishTopic string
	listener     Listener
	status       ConnectionStatus

	msgCount          uint64
	lastTimePublished time.Time

	log zerolog.Logger
}

func NewSession(params SessionParams) (*Session, error) {
	if params.Transport == nil {
		return nil, fmt.Errorf("Transport is nil")
	}
	params.EnsureDefaults()

	return &Session{
		params:            params,
		lastTimePublished: time.Unix(0, 0),
		log:               params.Log,
	}, nil
}

func (s *Session) Init(ctx context.Context, cfg SessionConfig) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateDisconnecting {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	residual := s.conn
	if residual != nil || s.publishTopic != "" {
		s.log.Warn().Msg("mqtt client initialized without disconnecting")
	}
	s.resetLocked()
	s.state = StateConnecting
	s.mu.Unlock()

	if residual != nil {
		_ = s.teardown(residual)
	}

	if cfg.Sync == nil || cfg.Sync.PublishTopic == "" {
		s.abort(nil)
		return ErrNoPublishTopic
	}

	conn, err := s.params.Transport.NewConn(s.connParams(cfg), s)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create the mqtt client")
		s.abort(nil)
		return fmt.Errorf("%w: %w", ErrSessionCreate, err)
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		_ = s.teardown(conn)
		return ErrSessionAborted
	}
	s.conn = conn
	s.mu.Unlock()

	if err := s.connect(ctx, conn); err != nil {
		s.abort(conn)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	if err := s.subscribe(ctx, conn, cfg.CommandTopic); err != nil {
		s.log.Error().Err(err).Str("topic", cfg.CommandTopic).Msg("failed to subscribe to the mqtt topic")
		s.abort(conn)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	s.mu.Lock()
	if s.state != StateConnecting || s.conn != conn {
		s.mu.Unlock()
		return ErrSessionAborted
	}
	s.state = StateConnected
	s.status = StatusMQTTConnected
	s.publishTopic = cfg.Sync.PublishTopic
	s.listener = cfg.Listener
	listener := s.listener
	s.mu.Unlock()

	s.log.Info().Str("publish_topic", cfg.Sync.PublishTopic).Msg("mqtt session established")
	if listener != nil {
		listener.OnStatusChange(StatusMQTTConnected)
	}
	return nil
}

func (s *Session) connParams(cfg SessionConfig) MQTTConnParams {
	port := cfg.Sync.BrokerPort
	if port == 0 {
		port = DefaultBrokerPort
	}

	clientID := cfg.Sync.ClientID
	username := cfg.Sync.Username
	if username == "" && clientID != "" {
		username = cfg.Sync.BrokerHost + "/" + clientID
	}

	return MQTTConnParams{
		Host:       cfg.Sync.BrokerHost,
		Port:       port,
		ClientID:   clientID,
		Username:   username,
		Auth:       cfg.Auth,
		RootCAFile: cfg.RootCAFile,
	}
}

func (s *Session) connect(ctx context.Context, conn MQTTConn) error {
	policy := s.params.ConnectRetry

	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if !s.owns(conn) {
			return ErrSessionAborted
		}
		if err = conn.Connect(); err == nil {
			s.log.Info().Int("attempt", attempt).Msg("mqtt connection successful")
			return nil
		}

		left := policy.Attempts - attempt
		if left == 0 {
			break
		}
		s.log.Warn().Err(err).
			Dur("retry_in", policy.Interval).
			Int("retries_left", left).
			Msg("mqtt connection failed, retrying")
		if serr := s.params.Sleep(ctx, policy.Interval); serr != nil {
			return serr
		}
	}

	s.log.Error().Err(err).
		Int("attempts", policy.Attempts).
		Float64("retry_budget_min", (time.Duration(policy.Attempts) * policy.Interval).Minutes()).
		Msg("exceeded maximum mqtt connection attempts")
	return err
}

func (s *Session) subscribe(ctx context.Context, conn MQTTConn, topic string) error {
	policy := s.params.SubscribeRetry

	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if !s.owns(conn) {
			return ErrSessionAborted
		}
		if err = conn.Subscribe(topic, s.params.SubscribeQoS); err == nil {
			s.log.Info().Str("topic", topic).Msg("mqtt client subscribed to the topic")
			return nil
		}
		if attempt == policy.Attempts {
			break
		}
		if serr := s.params.Sleep(ctx, policy.Interval); serr != nil {
			return serr
		}
	}
	return err
}

// owns reports whether conn is still the connection being initialized.
func (s *Session) owns(conn MQTTConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnecting && s.conn == conn
}

// abort tears conn down after a failed init stage and returns to
// StateUninitialized. A conn no longer owned was already torn down by
// Disconnect.
func (s *Session) abort(conn MQTTConn) {
	s.mu.Lock()
	if conn != nil && s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	s.mu.Unlock()

	if conn != nil {
		_ = s.teardown(conn)
	}
}

func (s *Session) Publish(payload []byte, qos byte) error {
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	s.mu.Lock()
	topic := s.publishTopic
	conn := s.conn
	s.mu.Unlock()

	if topic == "" || conn == nil {
		s.log.Warn().Msg("publish: mqtt is not connected")
		return ErrNotConnected
	}

	if err := conn.Publish(topic, qos, payload); err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		return err
	}

	s.mu.Lock()
	s.msgCount++
	s.lastTimePublished = time.Now()
	s.mu.Unlock()
	return nil
}

// Disconnect tears the session down. Both teardown stages always run and the
// first failure is returned. Calling it without a session is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.resetLocked()
		s.mu.Unlock()
		return nil
	}
	wasConnected := s.state == StateConnected
	listener := s.listener
	s.state = StateDisconnecting
	s.publishTopic = ""
	s.listener = nil
	s.mu.Unlock()

	err := s.teardown(conn)

	s.mu.Lock()
	if s.conn == conn {
		s.resetLocked()
	}
	s.status = StatusMQTTDisconnected
	s.mu.Unlock()

	if wasConnected && listener != nil {
		listener.OnStatusChange(StatusMQTTDisconnected)
	}
	return err
}

func (s *Session) teardown(conn MQTTConn) error {
	var first error

	if err := conn.Disconnect(); err != nil {
		s.log.Error().Err(err).Msg("failed to disconnect the mqtt client")
		first = err
	}
	if err := conn.Close(); err != nil {
		s.log.Error().Err(err).Msg("failed to delete the mqtt client")
		if first == nil {
			first = err
		}
	}
	return first
}

func (s *Session) resetLocked() {
	s.state = StateUninitialized
	s.conn = nil
	s.publishTopic = ""
	s.listener = nil
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Status() ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Stats() MQTTStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MQTTStatus{
		MessageCount:      s.msgCount,
		LastTimePublished: s.lastTimePublished,
		Connected:         s.state == StateConnected,
	}
}

func (s *Session) OnConnectionLost(err error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	// conn stays for the next Disconnect or Init to tear down.
	s.state = StateUninitialized
	s.status = StatusMQTTDisconnected
	s.publishTopic = ""
	listener := s.listener
	s.mu.Unlock()

	s.log.Warn().Err(err).Msg("unexpectedly disconnected from mqtt broker")
	if listener != nil {
		listener.OnStatusChange(StatusMQTTDisconnected)
	}
}

func (s *Session) OnMessage(topic string, payload []byte) {
	s.mu.Lock()
	listener := s.listener
	deliver := s.state == StateConnected && listener != nil
	s.mu.Unlock()

	if !deliver {
		s.log.Debug().Str("topic", topic).Msg("inbound message dropped, session not connected")
		return
	}
	listener.OnMessage(payload)
}

var (
	_ SessionManager   = &Session{}
	_ MQTTEventHandler = &Session{}
)
