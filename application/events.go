package application

import (
	"encoding/json"
	"strconv"
	"strings"
)

// EventType is the cmdType of a cloud to device message.
type EventType int

const (
	EventUnknown         EventType = 0x00
	EventDeviceCommand   EventType = 0x01
	EventDeviceOTA       EventType = 0x02
	EventModuleUpdate    EventType = 0x03
	EventChangeAttribute EventType = 0x10
	EventChangeSetting   EventType = 0x11
	EventChangePassword  EventType = 0x12
	EventChangeDevice    EventType = 0x13
	EventChangeRule      EventType = 0x15
	EventForceSync       EventType = 0x98
	EventClose           EventType = 0x99
)

func (e EventType) String() string {
	switch e {
	case EventDeviceCommand:
		return "device-command"
	case EventDeviceOTA:
		return "device-ota"
	case EventModuleUpdate:
		return "module-update"
	case EventChangeAttribute:
		return "change-attribute"
	case EventChangeSetting:
		return "change-setting"
	case EventChangePassword:
		return "change-password"
	case EventChangeDevice:
		return "change-device"
	case EventChangeRule:
		return "change-rule"
	case EventForceSync:
		return "force-sync"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

type eventEnvelope struct {
	CmdType string `json:"cmdType"`
}

// ParseEventType classifies an inbound payload by its "cmdType" field, given
// as a hex string such as "0x98". Anything that is not a JSON object with a
// parsable cmdType is EventUnknown.
func ParseEventType(payload []byte) EventType {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return EventUnknown
	}

	s := strings.ToLower(strings.TrimSpace(env.CmdType))
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return EventUnknown
	}

	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return EventUnknown
	}
	return EventType(v)
}
