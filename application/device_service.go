package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultTelemetryInterval = 10 * time.Second
	DefaultReportInterval    = 30 * time.Second

	// telemetryMessageType is "mt" for device telemetry in the 2.0 envelope.
	telemetryMessageType = 0
)

var ErrRestartRequired = fmt.Errorf("cloud requested a device restart")

// TelemetrySource returns one telemetry record per call.
type TelemetrySource interface {
	Read(ctx context.Context) (map[string]any, error)
}

type StatsReporter interface {
	Stats() MQTTStatus
}

// DeviceController is the part of DeviceClient the service drives.
type DeviceController interface {
	Init(ctx context.Context) error
	SendQoS(payload []byte, qos byte) error
	Disconnect() error
	IsConnected() bool
	RestartRequired() bool
	SyncResult() *SyncResult
	AddListener(l Listener)
}

type DeviceService interface {
	Run(ctx context.Context) error
}

type DeviceServiceParams struct {
	Client   DeviceController
	DeviceID string

	// Telemetry and Stats are optional.
	Telemetry TelemetrySource
	Stats     StatsReporter

	TelemetryQoS      byte
	TelemetryInterval time.Duration
	ReconnectDelay    time.Duration
	ReportInterval    time.Duration

	Sleep SleepFunc
	Now   func() time.Time

	Log zerolog.Logger
}

func (p *DeviceServiceParams) EnsureDefaults() {
	if p.TelemetryInterval <= 0 {
		p.TelemetryInterval = DefaultTelemetryInterval
	}
	if p.ReconnectDelay <= 0 {
		p.ReconnectDelay = DefaultReconnectDelay
	}
	if p.ReportInterval <= 0 {
		p.ReportInterval = DefaultReportInterval
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	if p.Now == nil {
		p.Now = time.Now
	}
}

type deviceService struct {
	params DeviceServiceParams

	disconnected chan struct{}

	log zerolog.Logger
}

func NewDeviceService(params DeviceServiceParams) (DeviceService, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("Client is nil")
	}
	if params.TelemetryQoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	params.EnsureDefaults()

	s := &deviceService{
		params:       params,
		disconnected: make(chan struct{}, 1),
		log:          params.Log,
	}
	params.Client.AddListener(s)
	return s, nil
}

func (s *deviceService) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := errgroup.Group{}

	// connection supervisor
	g.Go(func() error {
		defer cancel()
		return s.supervise(ctx)
	})

	// telemetry
	if s.params.Telemetry != nil {
		g.Go(func() error {
			s.log.Info().Dur("interval", s.params.TelemetryInterval).Msg("start sending telemetry")
			defer s.log.Info().Msg("stop sending telemetry")

			ticker := time.NewTicker(s.params.TelemetryInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					s.sendTelemetry(ctx)
				}
			}
		})
	}

	// mqtt publish report
	if s.params.Stats != nil {
		g.Go(func() error {
			ticker := time.NewTicker(s.params.ReportInterval)
			defer ticker.Stop()

			lastStatus := s.params.Stats.Stats()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					newStatus := s.params.Stats.Stats()
					msgPerMin := float64(newStatus.MessageCount-lastStatus.MessageCount) /
						s.params.ReportInterval.Minutes()

					s.log.Info().
						Float64("msg_per_min", msgPerMin).
						Uint64("msg_count", newStatus.MessageCount).
						Bool("is_connected", newStatus.Connected).
						Time("last_time_published", newStatus.LastTimePublished).
						Msg("publish report")
					lastStatus = newStatus
				}
			}
		})
	}

	return g.Wait()
}

func (s *deviceService) supervise(ctx context.Context) error {
	defer func() {
		if err := s.params.Client.Disconnect(); err != nil {
			s.log.Error().Err(err).Msg("disconnect on shutdown failed")
		}
	}()

	for {
		s.drainDisconnected()

		err := s.params.Client.Init(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrUnsupportedAuth), errors.Is(err, ErrInvalidConfig):
			return err
		case err != nil:
			s.log.Warn().Err(err).Dur("retry_in", s.params.ReconnectDelay).Msg("device client init failed")
		default:
			select {
			case <-ctx.Done():
				return nil
			case <-s.disconnected:
			}
			if s.params.Client.RestartRequired() {
				s.log.Warn().Msg("cloud closed the connection, device restart is required")
				return ErrRestartRequired
			}
			s.log.Info().Dur("retry_in", s.params.ReconnectDelay).Msg("connection dropped, reconnecting")
		}

		if err := s.params.Sleep(ctx, s.params.ReconnectDelay); err != nil {
			return nil
		}
	}
}

func (s *deviceService) drainDisconnected() {
	select {
	case <-s.disconnected:
	default:
	}
}

func (s *deviceService) sendTelemetry(ctx context.Context) {
	if !s.params.Client.IsConnected() {
		return
	}
	sr := s.params.Client.SyncResult()
	if sr == nil {
		return
	}

	data, err := s.params.Telemetry.Read(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to read telemetry")
		return
	}

	payload, err := BuildTelemetry(sr, s.params.DeviceID, s.params.Now(), data)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to encode telemetry")
		return
	}

	if err := s.params.Client.SendQoS(payload, s.params.TelemetryQoS); err != nil {
		s.log.Warn().Err(err).Msg("telemetry not sent")
		return
	}
	s.log.Debug().Int("bytes", len(payload)).Msg("telemetry sent")
}

func (s *deviceService) OnStatusChange(status ConnectionStatus) {
	if status != StatusMQTTDisconnected {
		return
	}
	select {
	case s.disconnected <- struct{}{}:
	default:
	}
}

func (s *deviceService) OnMessage(payload []byte) {
	s.log.Info().Str("payload", string(payload)).Msg("received command")
}

type telemetryRecord struct {
	ID   string         `json:"id"`
	DT   string         `json:"dt"`
	Data map[string]any `json:"d"`
}

type telemetryEnvelope struct {
	CPID    string            `json:"cpId"`
	DTG     string            `json:"dtg"`
	MT      int               `json:"mt"`
	DT      string            `json:"dt"`
	Records []telemetryRecord `json:"d"`
}

// BuildTelemetry encodes data as a single-record telemetry message for duid.
func BuildTelemetry(sr *SyncResult, duid string, at time.Time, data map[string]any) ([]byte, error) {
	if sr == nil {
		return nil, ErrNoPublishTopic
	}
	if data == nil {
		data = map[string]any{}
	}

	ts := at.UTC().Format(time.RFC3339)
	return json.Marshal(telemetryEnvelope{
		CPID: sr.CPID,
		DTG:  sr.DTG,
		MT:   telemetryMessageType,
		DT:   ts,
		Records: []telemetryRecord{
			{ID: duid, DT: ts, Data: data},
		},
	})
}

var (
	_ DeviceController = &DeviceClient{}
	_ Listener         = &deviceService{}
)
