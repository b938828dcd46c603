package application

import "fmt"

// AuthType values match the "at" field reported by the sync endpoint.
type AuthType int

const (
	// AuthTypeToken uses a long lived token obtained through sync. Development only.
	AuthTypeToken AuthType = 1
	// AuthTypeX509 authenticates with a device certificate and private key.
	AuthTypeX509 AuthType = 2
	// AuthTypeTPM is reserved and not supported.
	AuthTypeTPM AuthType = 4
	// AuthTypeSymmetricKey is reserved and not supported.
	AuthTypeSymmetricKey AuthType = 5
)

func (a AuthType) String() string {
	switch a {
	case AuthTypeToken:
		return "token"
	case AuthTypeX509:
		return "x509"
	case AuthTypeTPM:
		return "tpm"
	case AuthTypeSymmetricKey:
		return "symmetric_key"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// ParseAuthType maps a configuration name to an AuthType.
func ParseAuthType(s string) (AuthType, error) {
	switch s {
	case "token":
		return AuthTypeToken, nil
	case "x509":
		return AuthTypeX509, nil
	case "tpm":
		return AuthTypeTPM, nil
	case "symmetric_key":
		return AuthTypeSymmetricKey, nil
	default:
		return 0, fmt.Errorf("unknown auth type %q", s)
	}
}

// AuthInfo carries the device credentials. DeviceCert and DeviceKey are PEM
// file paths used with AuthTypeX509, SymmetricKey is used with
// AuthTypeSymmetricKey.
type AuthInfo struct {
	Type AuthType

	DeviceCert string
	DeviceKey  string

	SymmetricKey string
}

// ValidateAuthType reports whether the auth type can be used to open a session.
func ValidateAuthType(t AuthType) bool {
	switch t {
	case AuthTypeToken, AuthTypeX509:
		return true
	default:
		return false
	}
}

type ConnectionStatus int

const (
	StatusUndefined ConnectionStatus = iota
	StatusMQTTConnected
	StatusMQTTDisconnected
)

func (c ConnectionStatus) String() string {
	switch c {
	case StatusMQTTConnected:
		return "mqtt-connected"
	case StatusMQTTDisconnected:
		return "mqtt-disconnected"
	default:
		return "undefined"
	}
}

// DiscoveryResult is the base URL of the sync endpoint as resolved by discovery.
type DiscoveryResult struct {
	BaseURL string
	Host    string
	Path    string
}

type SyncStatus int

const (
	SyncStatusOK SyncStatus = iota
	SyncStatusDeviceNotRegistered
	SyncStatusAutoRegister
	SyncStatusDeviceNotFound
	SyncStatusDeviceInactive
	SyncStatusDeviceMoved
	SyncStatusCPIDNotFound
	SyncStatusUnknownDeviceStatus
	SyncStatusAllocationError
	SyncStatusParsingError
)

func (s SyncStatus) String() string {
	switch s {
	case SyncStatusOK:
		return "ok"
	case SyncStatusDeviceNotRegistered:
		return "device-not-registered"
	case SyncStatusAutoRegister:
		return "auto-register"
	case SyncStatusDeviceNotFound:
		return "device-not-found"
	case SyncStatusDeviceInactive:
		return "device-inactive"
	case SyncStatusDeviceMoved:
		return "device-moved"
	case SyncStatusCPIDNotFound:
		return "cpid-not-found"
	case SyncStatusAllocationError:
		return "allocation-error"
	case SyncStatusParsingError:
		return "parsing-error"
	default:
		return "unknown-device-status"
	}
}

// Description is the human readable rejection reason logged on sync failure.
func (s SyncStatus) Description() string {
	switch s {
	case SyncStatusOK:
		return "no error"
	case SyncStatusDeviceNotRegistered:
		return "not registered"
	case SyncStatusAutoRegister:
		return "auto register"
	case SyncStatusDeviceNotFound:
		return "device not found"
	case SyncStatusDeviceInactive:
		return "device inactive"
	case SyncStatusDeviceMoved:
		return "device moved"
	case SyncStatusCPIDNotFound:
		return "CPID not found"
	case SyncStatusAllocationError:
		return "internal error: allocation error"
	case SyncStatusParsingError:
		return "internal error: parsing error, please check parameters passed to the request"
	default:
		return "unknown device status error from server"
	}
}

// SyncResult holds the session parameters handed out by the sync endpoint.
type SyncResult struct {
	Status SyncStatus `json:"status"`

	CPID     string   `json:"cpid"`
	DTG      string   `json:"dtg"`
	AuthType AuthType `json:"auth_type"`

	BrokerHost string `json:"broker_host"`
	BrokerPort int    `json:"broker_port"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`

	PublishTopic   string `json:"publish_topic"`
	SubscribeTopic string `json:"subscribe_topic"`
}
