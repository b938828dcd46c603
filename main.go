package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iotc-device-client/adapters"
	"iotc-device-client/application"
	"iotc-device-client/config"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagConfig,
	FlagCPID,
	FlagEnv,
	FlagDUID,
	FlagAuthType,
	FlagDeviceCert,
	FlagDeviceKey,
	FlagRootCA,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "iotc-device-client",
		Usage:   "connects a device to IoTConnect and streams telemetry",
		Version: "v0.1.0",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			switch ctx.String(FlagLogWriter.Name) {
			case "console":
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			case "json":
				logWriter = os.Stderr
			default:
				return fmt.Errorf("invalid log writer: %s", ctx.String(FlagLogWriter.Name))
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "iotc-device-client").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)
			adapters.SetPahoLogger(logger)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("service starting...")

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			defer cancel()
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGTERM)

				<-c

				logger.Warn().Msg("interrupt signal received")
				cancel()
			}()

			httpClient, err := adapters.NewHTTPClient(adapters.HTTPClientParams{
				RootCAFile:           cfg.TLS.RootCAFile,
				ConnectAttempts:      cfg.HTTP.ConnectAttempts,
				ConnectRetryInterval: cfg.HTTP.ConnectRetryInterval,
				Timeout:              cfg.HTTP.Timeout,
				Log:                  logger.With().Str("module", "http-client").Logger(),
			})
			if err != nil {
				return err
			}

			resolver, err := application.NewResolver(application.ResolverParams{
				HTTPClient:    httpClient,
				DiscoveryHost: cfg.Discovery.Host,
				Log:           logger.With().Str("module", "resolver").Logger(),
			})
			if err != nil {
				return err
			}

			session, err := application.NewSession(application.SessionParams{
				Transport: adapters.NewMQTTTransport(adapters.MQTTClientParams{
					KeepAlive: cfg.MQTT.KeepAlive,
					Log:       logger.With().Str("module", "mqtt-client").Logger(),
				}),
				ConnectRetry: application.RetryPolicy{
					Attempts: cfg.MQTT.ConnectAttempts,
					Interval: cfg.MQTT.ConnectRetryInterval,
				},
				SubscribeRetry: application.RetryPolicy{
					Attempts: cfg.MQTT.SubscribeAttempts,
					Interval: cfg.MQTT.SubscribeRetryInterval,
				},
				Log: logger.With().Str("module", "session").Logger(),
			})
			if err != nil {
				return err
			}

			clientParams := application.DeviceClientParams{
				CompanyID:    cfg.Device.CPID,
				Environment:  cfg.Device.Env,
				DeviceID:     cfg.Device.DUID,
				Auth:         cfg.AuthInfo(),
				CommandTopic: cfg.Device.CommandTopic,
				RootCAFile:   cfg.TLS.RootCAFile,
				Resolver:     resolver,
				Session:      session,
				Log:          logger.With().Str("module", "device-client").Logger(),
			}

			if cfg.SyncCache.Path != "" {
				cache, err := adapters.NewSyncCache(adapters.SyncCacheParams{
					Path: cfg.SyncCache.Path,
					TTL:  cfg.SyncCache.TTL,
					Log:  logger.With().Str("module", "sync-cache").Logger(),
				})
				if err != nil {
					return err
				}
				defer cache.Close()
				clientParams.SyncCache = cache
			}

			client, err := application.NewDeviceClient(clientParams)
			if err != nil {
				return err
			}

			serviceParams := application.DeviceServiceParams{
				Client:            client,
				DeviceID:          cfg.Device.DUID,
				Stats:             session,
				TelemetryQoS:      byte(cfg.MQTT.QoS),
				TelemetryInterval: cfg.Telemetry.Interval,
				ReconnectDelay:    cfg.MQTT.ReconnectDelay,
				Log:               logger.With().Str("module", "device-service").Logger(),
			}
			if cfg.Telemetry.Enabled {
				serviceParams.Telemetry = adapters.NewSystemTelemetry()
			}

			deviceService, err := application.NewDeviceService(serviceParams)
			if err != nil {
				return err
			}

			logger.Info().Msg("service started")
			err = deviceService.Run(appCtx)
			if errors.Is(err, application.ErrRestartRequired) {
				return fmt.Errorf("%w: restart the device to reconnect", err)
			}
			if err != nil {
				return err
			}

			logger.Info().Msg("service terminating...")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides on top.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String(FlagConfig.Name))
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag *cli.StringFlag
		dst  *string
	}{
		{FlagCPID, &cfg.Device.CPID},
		{FlagEnv, &cfg.Device.Env},
		{FlagDUID, &cfg.Device.DUID},
		{FlagAuthType, &cfg.Auth.Type},
		{FlagDeviceCert, &cfg.Auth.DeviceCert},
		{FlagDeviceKey, &cfg.Auth.DeviceKey},
		{FlagRootCA, &cfg.TLS.RootCAFile},
	}
	for _, o := range overrides {
		if ctx.IsSet(o.flag.Name) {
			*o.dst = ctx.String(o.flag.Name)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}
