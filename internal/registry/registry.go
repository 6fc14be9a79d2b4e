package registry

import (
	"log"
	"sync"
	"time"

	"CapIot.gateway/internal/models"
)

// Conn is the duplex stream a device is reachable on. Send enqueues one frame
// for ordered delivery by the connection's writer; it fails once the
// connection is closed or its queue is full.
type Conn interface {
	ID() string
	Send(v any) error
	Close() error
}

// entry pairs a device record with its live connection. mu serializes all
// mutations for this device id; mutations on different ids never contend.
type entry struct {
	mu     sync.Mutex
	device *models.Device
	conn   Conn
}

// Registry is the single source of truth for which devices are currently
// connected. The newest registration for a device id always wins.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{devices: make(map[string]*entry)}
}

// Register inserts the device record for its id, superseding and closing any
// prior connection. Returns true when an existing registration was replaced.
func (r *Registry) Register(dev *models.Device, conn Conn) bool {
	r.mu.Lock()
	prior, replaced := r.devices[dev.DeviceID]
	r.devices[dev.DeviceID] = &entry{device: dev, conn: conn}
	r.mu.Unlock()

	if replaced && prior.conn.ID() != conn.ID() {
		// Close outside the map lock; the closing connection's teardown
		// calls back into the registry.
		log.Printf("registry: device %s superseded, closing prior connection %s",
			dev.DeviceID, prior.conn.ID())
		prior.conn.Close()
	}
	return replaced
}

// Lookup returns a snapshot copy of the device record. Callers must not hold
// on to it across calls; the registry owns the live record. The copy is deep
// enough that reading it (including JSON encoding) never races with config
// mutations on the live record.
func (r *Registry) Lookup(deviceID string) (models.Device, bool) {
	r.mu.RLock()
	e, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if !ok {
		return models.Device{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device.Snapshot(), true
}

// Conn returns the live connection for a device.
func (r *Registry) Conn(deviceID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.devices[deviceID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Touch advances the device's lastSeen. lastSeen never moves backwards.
func (r *Registry) Touch(deviceID string, at time.Time) bool {
	r.mu.RLock()
	e, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if at.After(e.device.LastSeen) {
		e.device.LastSeen = at
	}
	return true
}

// Update runs fn against the device record with all other mutations for this
// id excluded. fn's error is returned unchanged; the record keeps whatever
// fn did to it either way.
func (r *Registry) Update(deviceID string, fn func(*models.Device) error) error {
	r.mu.RLock()
	e, ok := r.devices[deviceID]
	r.mu.RUnlock()
	if !ok {
		return models.ErrDeviceNotConnected(deviceID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.device)
}

// RemoveConn removes the device only if connID still identifies its current
// connection. A superseded connection's teardown therefore cannot evict the
// registration that replaced it.
func (r *Registry) RemoveConn(deviceID, connID string) (models.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.devices[deviceID]
	if !ok || e.conn.ID() != connID {
		return models.Device{}, false
	}
	delete(r.devices, deviceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.device.State = models.StateDisconnected
	return e.device.Snapshot(), true
}

// RemoveIf removes the device when cond holds for its current record, and
// returns the removed record with its connection so the caller can close it.
// The check and the removal are atomic with respect to Touch and Update.
func (r *Registry) RemoveIf(deviceID string, cond func(models.Device) bool) (models.Device, Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.devices[deviceID]
	if !ok {
		return models.Device{}, nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !cond(*e.device) {
		return models.Device{}, nil, false
	}
	delete(r.devices, deviceID)
	e.device.State = models.StateDisconnected
	return e.device.Snapshot(), e.conn, true
}

// List returns snapshot copies of every connected device.
func (r *Registry) List() []models.Device {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.devices))
	for _, e := range r.devices {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]models.Device, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.device.Snapshot())
		e.mu.Unlock()
	}
	return out
}

// Len reports how many devices are connected.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Drain removes every device and closes every live connection. Used at
// shutdown.
func (r *Registry) Drain() {
	r.mu.Lock()
	entries := r.devices
	r.devices = make(map[string]*entry)
	r.mu.Unlock()

	for id, e := range entries {
		e.mu.Lock()
		e.device.State = models.StateDisconnected
		e.mu.Unlock()
		if err := e.conn.Close(); err != nil {
			log.Printf("registry: error closing connection for device %s: %v", id, err)
		}
	}
}
