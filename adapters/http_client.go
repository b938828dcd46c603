package adapters

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"iotc-device-client/application"

	"github.com/rs/zerolog"
)

const (
	HTTPDefaultConnectAttempts      = 5
	HTTPDefaultConnectRetryInterval = 2 * time.Second
	HTTPDefaultTimeout              = 10 * time.Second
	HTTPDefaultMaxResponseSize      = 1 << 20
	HTTPDefaultDialTimeout          = 10 * time.Second
)

var (
	ErrHTTPConnect          = fmt.Errorf("failed to connect")
	ErrHTTPSend             = fmt.Errorf("failed to send request")
	ErrHTTPResponseTooLarge = fmt.Errorf("response too large")
	ErrHTTPTLSConfig        = fmt.Errorf("invalid tls configuration")
	ErrHTTPNoRootCA         = fmt.Errorf("no root ca configured")
)

type HTTPClientParams struct {
	// RootCAs takes precedence over RootCAFile. One of them is required.
	RootCAFile string
	RootCAs    *x509.CertPool

	ConnectAttempts      int
	ConnectRetryInterval time.Duration
	DialTimeout          time.Duration
	// Timeout bounds the exchange once connected, from writing the request
	// to reading the last byte of the body.
	Timeout         time.Duration
	MaxResponseSize int64

	DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)
	Sleep    application.SleepFunc

	Log zerolog.Logger
}

func (h *HTTPClientParams) EnsureDefaults() {
	if h.ConnectAttempts <= 0 {
		h.ConnectAttempts = HTTPDefaultConnectAttempts
	}

	if h.ConnectRetryInterval == 0 {
		h.ConnectRetryInterval = HTTPDefaultConnectRetryInterval
	}

	if h.DialTimeout <= 0 {
		h.DialTimeout = HTTPDefaultDialTimeout
	}

	if h.Timeout == 0 {
		h.Timeout = HTTPDefaultTimeout
	}

	if h.MaxResponseSize <= 0 {
		h.MaxResponseSize = HTTPDefaultMaxResponseSize
	}

	if h.DialFunc == nil {
		h.DialFunc = (&net.Dialer{Timeout: h.DialTimeout}).DialContext
	}

	if h.Sleep == nil {
		h.Sleep = application.SleepContext
	}
}

// HTTPClient performs one-shot HTTPS exchanges. Every request uses a fresh
// connection that is closed once the response is read.
type HTTPClient struct {
	params HTTPClientParams

	rootCAs *x509.CertPool
	client  *http.Client

	log zerolog.Logger
}

func NewHTTPClient(params HTTPClientParams) (*HTTPClient, error) {
	params.EnsureDefaults()

	h := &HTTPClient{params: params, rootCAs: params.RootCAs, log: params.Log}
	if h.rootCAs == nil && params.RootCAFile != "" {
		pool, err := loadCertPool(params.RootCAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHTTPTLSConfig, err)
		}
		h.rootCAs = pool
	}
	if h.rootCAs == nil {
		return nil, fmt.Errorf("%w: %w", ErrHTTPTLSConfig, ErrHTTPNoRootCA)
	}

	h.client = &http.Client{
		Timeout:   params.Timeout + h.connectBudget(),
		Transport: &http.Transport{
			DialTLSContext:        h.dialTLS,
			DisableKeepAlives:     true,
			ResponseHeaderTimeout: params.Timeout,
		},
	}
	return h, nil
}

func (h *HTTPClient) Request(ctx context.Context, host, path string, body []byte) ([]byte, error) {
	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		method = http.MethodPost
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, "https://"+host+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHTTPSend, err)
	}
	req.Close = true
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrHTTPConnect) {
			return nil, err
		}
		h.log.Error().Err(err).Str("host", host).Msg("failed to send request")
		return nil, fmt.Errorf("%w: %w", ErrHTTPSend, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.params.MaxResponseSize+1))
	if err != nil {
		h.log.Error().Err(err).Str("host", host).Msg("failed to read response")
		return nil, fmt.Errorf("%w: %w", ErrHTTPSend, err)
	}
	if int64(len(data)) > h.params.MaxResponseSize {
		h.log.Error().Int64("limit", h.params.MaxResponseSize).Msg("response too large")
		return nil, ErrHTTPResponseTooLarge
	}

	if resp.StatusCode >= http.StatusBadRequest {
		h.log.Warn().Int("status", resp.StatusCode).Str("host", host).Str("path", path).Msg("http error response")
	}
	return data, nil
}

// connectBudget is the longest dialTLS can take before giving up.
func (h *HTTPClient) connectBudget() time.Duration {
	attempts := time.Duration(h.params.ConnectAttempts)
	return attempts*h.params.DialTimeout + (attempts-1)*h.params.ConnectRetryInterval
}

// dialTLS runs the tcp dial and tls handshake as one connect attempt and
// retries it with a fresh connection each time.
func (h *HTTPClient) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	serverName, _, err := net.SplitHostPort(addr)
	if err != nil {
		serverName = addr
	}

	attempts := h.params.ConnectAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := h.handshake(ctx, network, addr, serverName)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		h.log.Warn().Err(err).
			Str("addr", addr).
			Int("retries_left", attempts-attempt).
			Msg("https connect failed, retrying")
		if serr := h.params.Sleep(ctx, h.params.ConnectRetryInterval); serr != nil {
			return nil, fmt.Errorf("%w: %w", ErrHTTPConnect, serr)
		}
	}

	h.log.Error().Err(lastErr).Str("addr", addr).Int("attempts", attempts).Msg("failed to connect")
	return nil, fmt.Errorf("%w: %w", ErrHTTPConnect, lastErr)
}

func (h *HTTPClient) handshake(ctx context.Context, network, addr, serverName string) (net.Conn, error) {
	raw, err := h.params.DialFunc(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	conn := tls.Client(raw, &tls.Config{
		MinVersion: tlsMinVersion,
		RootCAs:    h.rootCAs,
		ServerName: serverName,
		NextProtos: []string{"http/1.1"},
	})
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return conn, nil
}

var _ application.HTTPClient = &HTTPClient{}
