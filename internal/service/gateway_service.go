package service

import (
	"context"
	"log"
	"time"

	"CapIot.gateway/internal/dispatch"
	"CapIot.gateway/internal/models"
	"CapIot.gateway/internal/registry"
	"CapIot.gateway/internal/session"
	"github.com/google/uuid"
)

// ReadingSink persists (deviceId, timestamp, measurement) tuples. Fulfilled
// by the InfluxDB repository.
type ReadingSink interface {
	WriteReading(ctx context.Context, reading models.Reading) error
}

// EnergyPredictor is the out-of-band model inference endpoint.
type EnergyPredictor interface {
	PredictEnergy(ctx context.Context, reading models.Reading) (float64, error)
}

// PresenceStore mirrors device liveness for external consumers. Best effort:
// failures are logged and never affect the device session.
type PresenceStore interface {
	SetOnline(ctx context.Context, deviceID string, ttl time.Duration) error
	SetOffline(ctx context.Context, deviceID string) error
}

// GatewayService routes inbound device messages through the session state
// machine and exposes the command API the admin endpoints call. All
// per-device mutations go through the registry, which serializes them.
type GatewayService struct {
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	sink       ReadingSink
	predictor  EnergyPredictor
	presence   PresenceStore
	timeout    time.Duration
}

// NewGatewayService creates the gateway service. sink, predictor and presence
// may be nil; the corresponding side channel is then skipped.
func NewGatewayService(reg *registry.Registry, dispatcher *dispatch.Dispatcher,
	sink ReadingSink, predictor EnergyPredictor, presence PresenceStore,
	timeout time.Duration) *GatewayService {
	return &GatewayService{
		reg:        reg,
		dispatcher: dispatcher,
		sink:       sink,
		predictor:  predictor,
		presence:   presence,
		timeout:    timeout,
	}
}

// HandleRegister admits a device on a new connection. A registration for an
// already-connected device id supersedes the prior connection; the device
// always comes up idle, so a session left active on the old connection is
// discarded rather than resumed.
func (s *GatewayService) HandleRegister(conn registry.Conn, msg *models.RegisterMessage) error {
	dev := &models.Device{
		DeviceID:           msg.DeviceID,
		Name:               msg.Name,
		FirmwareVersion:    msg.FirmwareVersion,
		Capabilities:       msg.Capabilities,
		SamplingRate:       msg.SamplingRate,
		CameraResolution:   msg.CameraResolution,
		CompressionEnabled: msg.CompressionEnabled,
		OTAEnabled:         msg.OTAEnabled,
		LastSeen:           time.Now(),
		State:              models.StateRegistered,
	}

	replaced := s.reg.Register(dev, conn)
	if replaced {
		log.Printf("gateway: device %s re-registered on connection %s", dev.DeviceID, conn.ID())
	} else {
		log.Printf("gateway: device %s registered (%s, firmware %s)",
			dev.DeviceID, dev.Name, dev.FirmwareVersion)
	}

	if err := s.reg.Update(dev.DeviceID, func(d *models.Device) error {
		session.Establish(d)
		return nil
	}); err != nil {
		return err
	}

	s.markOnline(dev.DeviceID)
	return nil
}

// HandleMessage processes one decoded post-registration frame. Every frame,
// heartbeat or otherwise, counts as liveness.
func (s *GatewayService) HandleMessage(deviceID string, msg any) error {
	if !s.reg.Touch(deviceID, time.Now()) {
		return models.ErrDeviceNotConnected(deviceID)
	}

	switch m := msg.(type) {
	case *models.HeartbeatMessage:
		s.markOnline(deviceID)
		return nil
	case *models.SensorDataMessage:
		return s.handleSensorData(deviceID, m)
	default:
		return models.ErrProtocol("message type not accepted from devices")
	}
}

func (s *GatewayService) handleSensorData(deviceID string, msg *models.SensorDataMessage) error {
	if err := s.reg.Update(deviceID, session.CanIngest); err != nil {
		return err
	}

	timestamp := time.Now()
	if msg.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, msg.Timestamp)
		if err != nil {
			log.Printf("gateway: device %s sent unparseable timestamp %q, using server time",
				deviceID, msg.Timestamp)
		} else {
			timestamp = parsed
		}
	}

	reading := models.Reading{
		DeviceID:  deviceID,
		Timestamp: timestamp,
		Voltage:   msg.Voltage,
		Current:   msg.Current,
		Power:     msg.Power,
		Frequency: msg.Frequency,
		Energy:    msg.Energy,
	}

	if s.sink != nil {
		if err := s.sink.WriteReading(context.Background(), reading); err != nil {
			log.Printf("gateway: failed to persist reading from device %s: %v", deviceID, err)
			return models.NewGatewayError(models.ErrorCodeInternalServerError,
				"failed to persist reading", nil, 500)
		}
	}

	if s.predictor != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			predicted, err := s.predictor.PredictEnergy(ctx, reading)
			if err != nil {
				log.Printf("gateway: energy prediction for device %s failed: %v", deviceID, err)
				return
			}
			log.Printf("gateway: predicted energy for device %s: %f", deviceID, predicted)
		}()
	}
	return nil
}

// HandleDisconnect is called by the transport when a connection closes for
// any reason. The registration is only removed when connID still identifies
// the device's current connection.
func (s *GatewayService) HandleDisconnect(deviceID, connID string) {
	if _, removed := s.reg.RemoveConn(deviceID, connID); removed {
		log.Printf("gateway: device %s disconnected", deviceID)
		s.markOffline(deviceID)
	}
}

// EvictExpired removes the device if it has been silent for at least timeout.
// The staleness check and the removal are atomic, so a heartbeat processed
// just before the sweep keeps the device registered.
func (s *GatewayService) EvictExpired(deviceID string, timeout time.Duration) {
	dev, conn, removed := s.reg.RemoveIf(deviceID, func(d models.Device) bool {
		return time.Since(d.LastSeen) >= timeout
	})
	if !removed {
		return
	}
	log.Printf("gateway: device %s timed out after %s of silence, evicting",
		deviceID, time.Since(dev.LastSeen).Truncate(time.Millisecond))
	conn.Close()
	s.markOffline(deviceID)
}

// PushConfig validates a config_update against the device's capabilities,
// records it, and dispatches it to the device.
func (s *GatewayService) PushConfig(deviceID string, config map[string]any) error {
	if len(config) == 0 {
		return models.NewGatewayError(models.ErrorCodeMissingParameter,
			"config must not be empty", nil, 400)
	}
	if err := s.reg.Update(deviceID, func(d *models.Device) error {
		return session.Configure(d, config)
	}); err != nil {
		return err
	}
	return s.dispatcher.Send(deviceID, models.NewConfigUpdate(config))
}

// StartSession begins a capture session, generating a session id when the
// caller supplies none. If dispatch fails the transition is rolled back so
// the record never claims a session the device was not told about.
func (s *GatewayService) StartSession(deviceID, sessionID string, params map[string]any) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := s.reg.Update(deviceID, func(d *models.Device) error {
		return session.Start(d, sessionID)
	}); err != nil {
		return "", err
	}
	if err := s.dispatcher.Send(deviceID, models.NewSessionStart(sessionID, params)); err != nil {
		_ = s.reg.Update(deviceID, func(d *models.Device) error {
			if d.ActiveSessionID == sessionID {
				d.State = models.StateIdle
				d.ActiveSessionID = ""
			}
			return nil
		})
		return "", err
	}
	log.Printf("gateway: session %s started on device %s", sessionID, deviceID)
	return sessionID, nil
}

// StopSession ends the active session and tells the device. Like StartSession,
// a failed dispatch rolls the transition back: the record must not claim Idle
// while the device still believes its session is running.
func (s *GatewayService) StopSession(deviceID string) (string, error) {
	var stopped string
	if err := s.reg.Update(deviceID, func(d *models.Device) error {
		var err error
		stopped, err = session.Stop(d)
		return err
	}); err != nil {
		return "", err
	}
	if err := s.dispatcher.Send(deviceID, models.NewSessionStop(stopped)); err != nil {
		_ = s.reg.Update(deviceID, func(d *models.Device) error {
			if d.State == models.StateIdle && d.ActiveSessionID == "" {
				d.State = models.StateSessionActive
				d.ActiveSessionID = stopped
			}
			return nil
		})
		return "", err
	}
	log.Printf("gateway: session %s stopped on device %s", stopped, deviceID)
	return stopped, nil
}

// ListDevices returns snapshots of every connected device.
func (s *GatewayService) ListDevices() []models.Device {
	return s.reg.List()
}

// GetDevice returns a snapshot of one device.
func (s *GatewayService) GetDevice(deviceID string) (models.Device, error) {
	dev, ok := s.reg.Lookup(deviceID)
	if !ok {
		return models.Device{}, models.ErrDeviceNotConnected(deviceID)
	}
	return dev, nil
}

// Shutdown closes every live connection.
func (s *GatewayService) Shutdown() {
	s.reg.Drain()
}

func (s *GatewayService) markOnline(deviceID string) {
	if s.presence == nil {
		return
	}
	if err := s.presence.SetOnline(context.Background(), deviceID, s.timeout); err != nil {
		log.Printf("gateway: presence update for device %s failed: %v", deviceID, err)
	}
}

func (s *GatewayService) markOffline(deviceID string) {
	if s.presence == nil {
		return
	}
	if err := s.presence.SetOffline(context.Background(), deviceID); err != nil {
		log.Printf("gateway: presence removal for device %s failed: %v", deviceID, err)
	}
}
