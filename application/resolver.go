package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
)

const (
	DefaultDiscoveryHost = "discovery.iotconnect.io"

	discoveryPathFormat = "/api/sdk/cpid/%s/lang/M_C/ver/2.0/env/%s"
	syncPathFormat      = "%ssync?"
)

var (
	ErrNoResponse     = fmt.Errorf("empty response")
	ErrNoJSONResponse = fmt.Errorf("no json response from server")
	ErrDiscoveryParse = fmt.Errorf("unable to parse discovery response")
	ErrSyncRejected   = fmt.Errorf("sync rejected")
	ErrNoDiscovery    = fmt.Errorf("no discovery result")
)

type SyncResolver interface {
	Discover(ctx context.Context, cpid, env string) (*DiscoveryResult, error)
	Sync(ctx context.Context, discovery *DiscoveryResult, cpid, duid string) (*SyncResult, error)
}

type ResolverParams struct {
	HTTPClient    HTTPClient
	DiscoveryHost string

	Log zerolog.Logger
}

func (r *ResolverParams) EnsureDefaults() {
	if r.DiscoveryHost == "" {
		r.DiscoveryHost = DefaultDiscoveryHost
	}
}

type Resolver struct {
	params ResolverParams

	log zerolog.Logger
}

func NewResolver(params ResolverParams) (*Resolver, error) {
	if params.HTTPClient == nil {
		return nil, fmt.Errorf("HTTPClient is nil")
	}
	params.EnsureDefaults()

	return &Resolver{params: params, log: params.Log}, nil
}

type discoveryResponse struct {
	BaseURL string `json:"baseUrl"`
}

func (r *Resolver) Discover(ctx context.Context, cpid, env string) (*DiscoveryResult, error) {
	path := fmt.Sprintf(discoveryPathFormat, cpid, env)

	body, err := r.params.HTTPClient.Request(ctx, r.params.DiscoveryHost, path, nil)
	if err != nil {
		return nil, err
	}
	if err := r.checkJSON(body); err != nil {
		return nil, err
	}

	var resp discoveryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		r.log.Error().Err(err).Str("response", string(body)).Msg("unable to parse discovery response")
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryParse, err)
	}

	u, err := url.Parse(resp.BaseURL)
	if err != nil || resp.BaseURL == "" || u.Host == "" {
		r.log.Error().Str("response", string(body)).Msg("discovery response has no usable base url")
		return nil, ErrDiscoveryParse
	}

	result := &DiscoveryResult{
		BaseURL: resp.BaseURL,
		Host:    u.Host,
		Path:    u.Path,
	}
	r.log.Info().Str("host", result.Host).Str("path", result.Path).Msg("discovery response parsing successful")
	return result, nil
}

type syncOption struct {
	Attribute bool `json:"attribute"`
	Setting   bool `json:"setting"`
	Protocol  bool `json:"protocol"`
	Device    bool `json:"device"`
	SDKConfig bool `json:"sdkConfig"`
	Rule      bool `json:"rule"`
}

type syncRequest struct {
	CPID     string     `json:"cpId"`
	UniqueID string     `json:"uniqueId"`
	Option   syncOption `json:"option"`
}

type syncProtocol struct {
	Name     string `json:"n"`
	Host     string `json:"h"`
	Port     int    `json:"p"`
	ClientID string `json:"id"`
	Username string `json:"un"`
	Pub      string `json:"pub"`
	Sub      string `json:"sub"`
}

type syncResponse struct {
	D *struct {
		DS       int           `json:"ds"`
		CPID     string        `json:"cpId"`
		DTG      string        `json:"dtg"`
		AuthType int           `json:"at"`
		Protocol *syncProtocol `json:"p"`
	} `json:"d"`
}

func (r *Resolver) Sync(ctx context.Context, discovery *DiscoveryResult, cpid, duid string) (*SyncResult, error) {
	if discovery == nil {
		return nil, ErrNoDiscovery
	}

	path := fmt.Sprintf(syncPathFormat, discovery.Path)
	reqBody, err := json.Marshal(syncRequest{
		CPID:     cpid,
		UniqueID: duid,
		Option:   syncOption{Protocol: true},
	})
	if err != nil {
		return nil, err
	}

	body, err := r.params.HTTPClient.Request(ctx, discovery.Host, path, reqBody)
	if err != nil {
		return nil, err
	}
	if err := r.checkJSON(body); err != nil {
		return nil, err
	}

	result := ParseSyncResponse(body)
	if result.Status != SyncStatusOK {
		r.log.Error().
			Str("status", result.Status.String()).
			Str("response", string(body)).
			Msgf("sync response error: %s", result.Status.Description())
		return nil, fmt.Errorf("%w: %s", ErrSyncRejected, result.Status)
	}

	r.log.Info().Str("broker", result.BrokerHost).Msg("sync response parsing successful")
	return result, nil
}

// ParseSyncResponse decodes a sync response body. The returned record always
// carries a status, non-ok records are otherwise partial.
func ParseSyncResponse(body []byte) *SyncResult {
	var resp syncResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.D == nil {
		return &SyncResult{Status: SyncStatusParsingError}
	}

	d := resp.D
	result := &SyncResult{
		Status:   syncStatusFromDS(d.DS),
		CPID:     d.CPID,
		DTG:      d.DTG,
		AuthType: AuthType(d.AuthType),
	}
	if result.Status != SyncStatusOK {
		return result
	}

	// an ok record names a broker and a publish topic
	if d.Protocol == nil || d.Protocol.Host == "" || d.Protocol.Pub == "" {
		return &SyncResult{Status: SyncStatusParsingError}
	}
	result.BrokerHost = d.Protocol.Host
	result.BrokerPort = d.Protocol.Port
	result.ClientID = d.Protocol.ClientID
	result.Username = d.Protocol.Username
	result.PublishTopic = d.Protocol.Pub
	result.SubscribeTopic = d.Protocol.Sub
	return result
}

func syncStatusFromDS(ds int) SyncStatus {
	switch ds {
	case 0:
		return SyncStatusOK
	case 1:
		return SyncStatusDeviceNotRegistered
	case 2:
		return SyncStatusAutoRegister
	case 3:
		return SyncStatusDeviceNotFound
	case 4:
		return SyncStatusDeviceInactive
	case 5:
		return SyncStatusDeviceMoved
	case 6:
		return SyncStatusCPIDNotFound
	default:
		return SyncStatusUnknownDeviceStatus
	}
}

// checkJSON requires the body to start with '{'. This stands in for a full
// content check before anything gets parsed.
func (r *Resolver) checkJSON(body []byte) error {
	if len(body) == 0 {
		r.log.Error().Msg("unable to parse HTTP response, response was empty")
		return ErrNoResponse
	}
	if !bytes.HasPrefix(body, []byte("{")) {
		r.log.Error().Str("response", string(body)).Msg("no json response from server")
		return ErrNoJSONResponse
	}
	return nil
}

var _ SyncResolver = &Resolver{}
