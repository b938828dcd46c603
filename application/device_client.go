package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

const DefaultQoS = 1

var (
	ErrUnsupportedAuth   = fmt.Errorf("unsupported authentication type")
	ErrInvalidConfig     = fmt.Errorf("device configuration is invalid")
	ErrDiscoveryFailed   = fmt.Errorf("discovery failed")
	ErrSyncFailed        = fmt.Errorf("sync failed")
	ErrSessionInitFailed = fmt.Errorf("failed to connect")
)

type DeviceClientParams struct {
	CompanyID   string
	Environment string
	DeviceID    string

	Auth         AuthInfo
	CommandTopic string
	RootCAFile   string

	Resolver SyncResolver
	Session  SessionManager
	// SyncCache is optional.
	SyncCache SyncCache

	Listeners []Listener

	Log zerolog.Logger
}

// DeviceClient wires discovery and sync results into the MQTT session and
// handles the cloud's control messages before they reach the listeners.
type DeviceClient struct {
	params DeviceClientParams

	// mu guards discovery and sync, which are replaced by a forced resync
	// running on a transport goroutine.
	mu        sync.Mutex
	discovery *DiscoveryResult
	sync      *SyncResult

	restartRequired atomic.Bool

	listenersMu sync.RWMutex
	listeners   []Listener

	log zerolog.Logger
}

func NewDeviceClient(params DeviceClientParams) (*DeviceClient, error) {
	if params.Resolver == nil {
		return nil, fmt.Errorf("Resolver is nil")
	}
	if params.Session == nil {
		return nil, fmt.Errorf("Session is nil")
	}
	return &DeviceClient{
		params:    params,
		listeners: append([]Listener(nil), params.Listeners...),
		log:       params.Log,
	}, nil
}

// AddListener registers l for status changes and forwarded messages.
func (d *DeviceClient) AddListener(l Listener) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *DeviceClient) snapshotListeners() []Listener {
	d.listenersMu.RLock()
	defer d.listenersMu.RUnlock()
	return append([]Listener(nil), d.listeners...)
}

func (d *DeviceClient) Init(ctx context.Context) error {
	if !d.validateAuthType() {
		return ErrUnsupportedAuth
	}
	if d.params.CompanyID == "" || d.params.Environment == "" || d.params.DeviceID == "" {
		d.log.Error().Msg("configuration values for env, cpid and duid are required")
		return ErrInvalidConfig
	}

	d.log.Info().
		Str("cpid", maskCPID(d.params.CompanyID)).
		Str("env", d.params.Environment).
		Str("duid", d.params.DeviceID).
		Msg("initializing device client")

	sr, err := d.ensureSync(ctx)
	if err != nil {
		return err
	}

	commandTopic := d.commandTopic(sr)
	if sr.PublishTopic == "" || commandTopic == "" {
		d.log.Error().
			Str("publish_topic", sr.PublishTopic).
			Str("command_topic", commandTopic).
			Msg("sync result is missing a topic, dropping it")
		d.dropSync(ctx, sr)
		return fmt.Errorf("%w: %w", ErrSyncFailed, ErrNoPublishTopic)
	}

	d.restartRequired.Store(false)

	err = d.params.Session.Init(ctx, SessionConfig{
		Sync:         sr,
		Auth:         d.params.Auth,
		CommandTopic: commandTopic,
		RootCAFile:   d.params.RootCAFile,
		Listener:     d,
	})
	if err != nil {
		d.log.Error().Err(err).Msg("failed to connect")
		if errors.Is(err, ErrNoPublishTopic) {
			d.dropSync(ctx, sr)
		}
		return fmt.Errorf("%w: %w", ErrSessionInitFailed, err)
	}
	return nil
}

// dropSync forgets sr, in memory and in the cache, so the next Init syncs
// again. A result already replaced by a forced resync is left alone.
func (d *DeviceClient) dropSync(ctx context.Context, sr *SyncResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sync != sr {
		return
	}
	d.sync = nil
	if cache := d.params.SyncCache; cache != nil {
		if err := cache.Invalidate(ctx, d.params.CompanyID, d.params.DeviceID); err != nil {
			d.log.Warn().Err(err).Msg("unable to invalidate cached sync result")
		}
	}
}

func (d *DeviceClient) validateAuthType() bool {
	t := d.params.Auth.Type
	switch t {
	case AuthTypeToken:
		d.log.Warn().Msg("token authentication should not be used in production")
	case AuthTypeSymmetricKey:
		d.log.Error().Msg("symmetric key authentication is not supported")
	case AuthTypeX509:
	default:
		d.log.Error().Str("auth_type", t.String()).Msg("unknown authentication type")
	}
	return ValidateAuthType(t)
}

// ensureSync returns the held sync result, falling back to the cache and then
// to discovery and sync over the network.
func (d *DeviceClient) ensureSync(ctx context.Context) (*SyncResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sync != nil {
		return d.sync, nil
	}

	if cache := d.params.SyncCache; cache != nil {
		sr, err := cache.Load(ctx, d.params.CompanyID, d.params.DeviceID)
		if err != nil {
			d.log.Warn().Err(err).Msg("unable to load cached sync result")
		}
		if sr != nil {
			d.log.Info().Msg("using cached sync result")
			d.sync = sr
			return sr, nil
		}
	}

	sr, err := d.runSyncLocked(ctx)
	if err != nil {
		return nil, err
	}
	d.sync = sr
	return sr, nil
}

func (d *DeviceClient) runSyncLocked(ctx context.Context) (*SyncResult, error) {
	if d.discovery == nil {
		disc, err := d.params.Resolver.Discover(ctx, d.params.CompanyID, d.params.Environment)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
		}
		d.discovery = disc
	}

	sr, err := d.params.Resolver.Sync(ctx, d.discovery, d.params.CompanyID, d.params.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	if cache := d.params.SyncCache; cache != nil {
		if err := cache.Store(ctx, d.params.CompanyID, d.params.DeviceID, sr); err != nil {
			d.log.Warn().Err(err).Msg("unable to cache sync result")
		}
	}
	return sr, nil
}

func (d *DeviceClient) commandTopic(sr *SyncResult) string {
	if d.params.CommandTopic != "" {
		return d.params.CommandTopic
	}
	return sr.SubscribeTopic
}

// Send publishes payload on the session's publish topic at QoS 1.
func (d *DeviceClient) Send(payload []byte) error {
	return d.params.Session.Publish(payload, DefaultQoS)
}

func (d *DeviceClient) SendQoS(payload []byte, qos byte) error {
	return d.params.Session.Publish(payload, qos)
}

func (d *DeviceClient) Disconnect() error {
	return d.params.Session.Disconnect()
}

func (d *DeviceClient) IsConnected() bool {
	return d.params.Session.IsConnected()
}

// RestartRequired reports whether the cloud sent a close request since the
// last Init.
func (d *DeviceClient) RestartRequired() bool {
	return d.restartRequired.Load()
}

// SyncResult returns the sync result currently in use, if any.
func (d *DeviceClient) SyncResult() *SyncResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sync
}

func (d *DeviceClient) OnStatusChange(status ConnectionStatus) {
	d.log.Info().Str("status", status.String()).Msg("connection status changed")
	for _, l := range d.snapshotListeners() {
		l := l
		d.dispatch("status", func() { l.OnStatusChange(status) })
	}
}

func (d *DeviceClient) OnMessage(payload []byte) {
	switch ParseEventType(payload) {
	case EventForceSync:
		d.forceSync()
	case EventClose:
		d.log.Warn().Msg("got a disconnect request, closing the mqtt connection, device restart is required")
		d.restartRequired.Store(true)
		if err := d.params.Session.Disconnect(); err != nil {
			d.log.Error().Err(err).Msg("disconnect on close request failed")
		}
	default:
		for _, l := range d.snapshotListeners() {
			l := l
			d.dispatch("message", func() { l.OnMessage(payload) })
		}
	}
}

// forceSync drops the session and the sync result and re-runs sync. The
// reconnect is left to whoever observes the disconnected status.
func (d *DeviceClient) forceSync() {
	d.log.Info().Msg("got force sync request, disconnecting")
	if err := d.params.Session.Disconnect(); err != nil {
		d.log.Error().Err(err).Msg("disconnect on force sync failed")
	}

	ctx := context.Background()

	d.mu.Lock()
	d.sync = nil
	if cache := d.params.SyncCache; cache != nil {
		if err := cache.Invalidate(ctx, d.params.CompanyID, d.params.DeviceID); err != nil {
			d.log.Warn().Err(err).Msg("unable to invalidate cached sync result")
		}
	}
	sr, err := d.runSyncLocked(ctx)
	if err == nil {
		d.sync = sr
	}
	d.mu.Unlock()

	if err != nil {
		d.log.Error().Err(err).Msg("unable to run http sync on force sync")
		return
	}
	d.log.Info().Str("broker", sr.BrokerHost).Msg("force sync complete")
}

func (d *DeviceClient) dispatch(kind string, f func()) {
	var pc panics.Catcher
	pc.Try(f)
	if r := pc.Recovered(); r != nil {
		d.log.Error().
			Str("callback", kind).
			Interface("panic", r.Value).
			Str("stack", string(r.Stack)).
			Msg("listener panic recovered")
	}
}

func maskCPID(cpid string) string {
	if len(cpid) <= 4 {
		return cpid + "***"
	}
	return cpid[:4] + "***"
}

var (
	_ Listener = &DeviceClient{}
)
