package main

import "github.com/urfave/cli/v2"

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	Usage:    "one of: [console, json]",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagConfig = &cli.StringFlag{
	Name:     "config",
	Usage:    "path to the device configuration file",
	EnvVars:  []string{"IOTC_CONFIG"},
	Required: false,
}

var FlagCPID = &cli.StringFlag{
	Name:     "cpid",
	Usage:    "company id",
	EnvVars:  []string{"IOTC_CPID"},
	Required: false,
}

var FlagEnv = &cli.StringFlag{
	Name:     "env",
	Usage:    "iotconnect environment",
	EnvVars:  []string{"IOTC_ENV"},
	Required: false,
}

var FlagDUID = &cli.StringFlag{
	Name:     "duid",
	Usage:    "device unique id",
	EnvVars:  []string{"IOTC_DUID"},
	Required: false,
}

var FlagAuthType = &cli.StringFlag{
	Name:     "auth-type",
	Usage:    "one of: [x509, token]",
	EnvVars:  []string{"IOTC_AUTH_TYPE"},
	Required: false,
}

var FlagDeviceCert = &cli.StringFlag{
	Name:     "device-cert",
	Usage:    "device certificate (PEM) for x509 auth",
	EnvVars:  []string{"IOTC_DEVICE_CERT"},
	Required: false,
}

var FlagDeviceKey = &cli.StringFlag{
	Name:     "device-key",
	Usage:    "device private key (PEM) for x509 auth",
	EnvVars:  []string{"IOTC_DEVICE_KEY"},
	Required: false,
}

var FlagRootCA = &cli.StringFlag{
	Name:     "root-ca",
	Usage:    "root ca bundle (PEM) used for https and mqtt (required)",
	EnvVars:  []string{"IOTC_ROOT_CA"},
	Required: false,
}
