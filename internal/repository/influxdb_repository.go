package repository

import (
	"context"
	"fmt"
	"log"

	"CapIot.gateway/internal/models"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// InfluxDBRepository persists device readings to InfluxDB. It fulfils the
// gateway's persistence sink; querying and retention live with the analytics
// services, not here.
type InfluxDBRepository struct {
	client influxdb2.Client
	org    string
	bucket string
}

// NewInfluxDBRepository creates a repository and verifies the server is
// reachable.
func NewInfluxDBRepository(url, token, org, bucket string) (*InfluxDBRepository, error) {
	client := influxdb2.NewClient(url, token)

	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &InfluxDBRepository{client: client, org: org, bucket: bucket}, nil
}

// WriteReading writes one pzem measurement as a point tagged by device id.
func (r *InfluxDBRepository) WriteReading(ctx context.Context, reading models.Reading) error {
	writeAPI := r.client.WriteAPIBlocking(r.org, r.bucket)

	point := influxdb2.NewPoint(
		"pzem_measurements",
		map[string]string{"device_id": reading.DeviceID},
		map[string]interface{}{
			"voltage":   reading.Voltage,
			"current":   reading.Current,
			"power":     reading.Power,
			"frequency": reading.Frequency,
			"energy":    reading.Energy,
		},
		reading.Timestamp,
	)

	if err := writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("error writing to InfluxDB: %w", err)
	}
	log.Printf("reading written to InfluxDB, bucket: %s, device_id: %s, power: %f",
		r.bucket, reading.DeviceID, reading.Power)
	return nil
}

// Close releases the underlying client.
func (r *InfluxDBRepository) Close() {
	r.client.Close()
}
