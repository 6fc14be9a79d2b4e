// Package session holds the per-device state machine:
//
//	registered → idle ⇄ session_active
//
// with disconnected as the terminal state reached through eviction. Every
// function here is a pure transition on the device record; callers serialize
// access per device through the registry.
package session

import "CapIot.gateway/internal/models"

// Establish completes registration processing, moving the device from
// registered to idle. A reconnecting device always resets to idle: any
// session that was active on the previous connection is discarded.
func Establish(dev *models.Device) {
	dev.State = models.StateIdle
	dev.ActiveSessionID = ""
}

// Start moves an idle device into session_active with the given session id.
// Starting while a session is already active fails with
// session_already_active and preserves the current session.
func Start(dev *models.Device, sessionID string) error {
	switch dev.State {
	case models.StateSessionActive:
		return models.ErrSessionAlreadyActive(dev.ActiveSessionID)
	case models.StateRegistered, models.StateIdle:
		dev.State = models.StateSessionActive
		dev.ActiveSessionID = sessionID
		return nil
	default:
		return models.ErrDeviceNotConnected(dev.DeviceID)
	}
}

// Stop ends the active session and returns its id. Stopping an idle device
// fails with no_active_session.
func Stop(dev *models.Device) (string, error) {
	if dev.State != models.StateSessionActive {
		return "", models.ErrNoActiveSession(dev.DeviceID)
	}
	stopped := dev.ActiveSessionID
	dev.State = models.StateIdle
	dev.ActiveSessionID = ""
	return stopped, nil
}

// Configure applies a config_update without changing state. Every key must
// name a capability the device declared configurable, otherwise the whole
// update is rejected with unsupported_capability and nothing is applied.
func Configure(dev *models.Device, config map[string]any) error {
	if dev.State != models.StateIdle && dev.State != models.StateSessionActive {
		return models.ErrDeviceNotConnected(dev.DeviceID)
	}
	for capabilityID := range config {
		capability, ok := dev.Capability(capabilityID)
		if !ok || !capability.Configurable {
			return models.ErrUnsupportedCapability(capabilityID)
		}
	}
	if dev.Config == nil {
		dev.Config = make(map[string]any, len(config))
	}
	for capabilityID, value := range config {
		dev.Config[capabilityID] = value
	}
	return nil
}

// CanIngest reports whether the device may submit sensor_data. Capture is
// session-bounded, so readings outside a session fail with no_active_session.
func CanIngest(dev *models.Device) error {
	if dev.State != models.StateSessionActive {
		return models.ErrNoActiveSession(dev.DeviceID)
	}
	return nil
}
