package dispatch

import (
	"log"

	"CapIot.gateway/internal/models"
	"CapIot.gateway/internal/registry"
)

// Dispatcher delivers gateway→device commands over the target's live
// connection. Commands for one device are enqueued in submission order and
// drained by that connection's single writer, so they are never reordered or
// coalesced; commands for different devices go out independently.
//
// Delivery is at-most-once: if the target is not in the registry the command
// fails immediately with device_not_connected and is never queued for later.
type Dispatcher struct {
	reg *registry.Registry
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// Send enqueues one command frame for the device.
func (d *Dispatcher) Send(deviceID string, command any) error {
	conn, ok := d.reg.Conn(deviceID)
	if !ok {
		return models.ErrDeviceNotConnected(deviceID)
	}
	if err := conn.Send(command); err != nil {
		log.Printf("dispatch: send to device %s failed: %v", deviceID, err)
		return models.ErrDeviceNotConnected(deviceID)
	}
	return nil
}
