package models

import (
	"encoding/json"
	"fmt"
)

// MessageType tags every frame exchanged with a device.
type MessageType string

const (
	// device → gateway
	TypeRegister   MessageType = "register"
	TypeHeartbeat  MessageType = "heartbeat"
	TypeSensorData MessageType = "sensor_data"

	// gateway → device
	TypeConfigUpdate MessageType = "config_update"
	TypeSessionStart MessageType = "session_start"
	TypeSessionStop  MessageType = "session_stop"
	TypeError        MessageType = "error"
)

// RegisterMessage is the first frame a device sends on a new connection.
type RegisterMessage struct {
	Type               MessageType  `json:"type"`
	DeviceID           string       `json:"deviceId"`
	Name               string       `json:"name"`
	FirmwareVersion    string       `json:"firmwareVersion"`
	Capabilities       []Capability `json:"capabilities"`
	SamplingRate       int          `json:"samplingRate"`
	CameraResolution   string       `json:"cameraResolution"`
	CompressionEnabled bool         `json:"compressionEnabled"`
	OTAEnabled         bool         `json:"otaEnabled"`
}

// HeartbeatMessage is a periodic liveness signal with no payload beyond its type.
type HeartbeatMessage struct {
	Type MessageType `json:"type"`
}

// SensorDataMessage carries one pzem power reading captured during a session.
type SensorDataMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
	Voltage   float64     `json:"voltage"`
	Current   float64     `json:"current"`
	Power     float64     `json:"power"`
	Frequency float64     `json:"frequency"`
	Energy    float64     `json:"energy"`
}

// ConfigUpdateMessage pushes capability configuration to a device. Config is
// keyed by capability id.
type ConfigUpdateMessage struct {
	Type   MessageType    `json:"type"`
	Config map[string]any `json:"config"`
}

// SessionStartMessage instructs a device to begin a capture session.
type SessionStartMessage struct {
	Type      MessageType    `json:"type"`
	SessionID string         `json:"sessionId"`
	Params    map[string]any `json:"params,omitempty"`
}

// SessionStopMessage instructs a device to end its capture session.
type SessionStopMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

// ErrorMessage is echoed to a device when one of its frames is rejected.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
}

// NewErrorMessage builds the error frame for a GatewayError.
func NewErrorMessage(gerr GatewayError) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: gerr.Code, Message: gerr.Message}
}

// NewConfigUpdate builds a config_update frame.
func NewConfigUpdate(config map[string]any) ConfigUpdateMessage {
	return ConfigUpdateMessage{Type: TypeConfigUpdate, Config: config}
}

// NewSessionStart builds a session_start frame.
func NewSessionStart(sessionID string, params map[string]any) SessionStartMessage {
	return SessionStartMessage{Type: TypeSessionStart, SessionID: sessionID, Params: params}
}

// NewSessionStop builds a session_stop frame.
func NewSessionStop(sessionID string) SessionStopMessage {
	return SessionStopMessage{Type: TypeSessionStop, SessionID: sessionID}
}

// DecodeInbound parses one device frame into its concrete message type. Any
// failure is reported as a protocol_error; the caller drops the frame without
// updating liveness.
func DecodeInbound(data []byte) (any, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, ErrProtocol(fmt.Sprintf("undecodable message: %v", err))
	}

	switch envelope.Type {
	case TypeRegister:
		var msg RegisterMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, ErrProtocol(fmt.Sprintf("invalid register message: %v", err))
		}
		if msg.DeviceID == "" {
			return nil, ErrProtocol("register message requires a non-empty deviceId")
		}
		if msg.SamplingRate <= 0 {
			return nil, ErrProtocol("register message requires a positive samplingRate")
		}
		return &msg, nil
	case TypeHeartbeat:
		var msg HeartbeatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, ErrProtocol(fmt.Sprintf("invalid heartbeat message: %v", err))
		}
		return &msg, nil
	case TypeSensorData:
		var msg SensorDataMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, ErrProtocol(fmt.Sprintf("invalid sensor_data message: %v", err))
		}
		return &msg, nil
	case "":
		return nil, ErrProtocol("message is missing a type")
	default:
		return nil, ErrProtocol(fmt.Sprintf("unknown message type %q", envelope.Type))
	}
}
