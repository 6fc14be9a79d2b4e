package models

import "time"

// Reading is one persisted pzem measurement, keyed by device and timestamp.
type Reading struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Voltage   float64   `json:"voltage"`
	Current   float64   `json:"current"`
	Power     float64   `json:"power"`
	Frequency float64   `json:"frequency"`
	Energy    float64   `json:"energy"`
}
