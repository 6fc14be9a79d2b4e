package models

import "time"

// DeviceState tracks where a device is in its connection lifecycle.
type DeviceState string

const (
	StateRegistered    DeviceState = "registered"
	StateIdle          DeviceState = "idle"
	StateSessionActive DeviceState = "session_active"
	StateDisconnected  DeviceState = "disconnected"
)

// Capability describes one hardware feature a device exposes.
type Capability struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	Configurable bool   `json:"configurable"`
}

// Device is the registry record for one connected sensor node. The record is
// owned by the registry; other components read it through lookups and must not
// retain their own copy across calls.
type Device struct {
	DeviceID           string       `json:"deviceId"`
	Name               string       `json:"name"`
	FirmwareVersion    string       `json:"firmwareVersion"`
	Capabilities       []Capability `json:"capabilities"`
	SamplingRate       int          `json:"samplingRate"`
	CameraResolution   string       `json:"cameraResolution,omitempty"`
	CompressionEnabled bool         `json:"compressionEnabled"`
	OTAEnabled         bool         `json:"otaEnabled"`

	LastSeen        time.Time      `json:"lastSeen"`
	State           DeviceState    `json:"state"`
	ActiveSessionID string         `json:"activeSessionId,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
}

// Snapshot returns a copy safe to hand outside the registry while the live
// record keeps being mutated. The capability slice and the config map are
// copied; pushed config values are replaced wholesale, never mutated in
// place, so sharing them is safe.
func (d *Device) Snapshot() Device {
	out := *d
	if d.Capabilities != nil {
		out.Capabilities = make([]Capability, len(d.Capabilities))
		copy(out.Capabilities, d.Capabilities)
	}
	if d.Config != nil {
		out.Config = make(map[string]any, len(d.Config))
		for id, value := range d.Config {
			out.Config[id] = value
		}
	}
	return out
}

// Capability returns the capability with the given id, if the device declared it.
func (d *Device) Capability(id string) (Capability, bool) {
	for _, c := range d.Capabilities {
		if c.ID == id {
			return c, true
		}
	}
	return Capability{}, false
}
