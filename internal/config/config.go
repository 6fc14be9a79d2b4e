package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application's configuration.
type Config struct {
	Port string

	// HeartbeatTimeout must exceed the devices' nominal heartbeat period
	// (5s for the esp32 firmware) by a safety margin; the default is 3x.
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration

	InfluxDBURL    string
	InfluxDBToken  string
	InfluxDBOrg    string
	InfluxDBBucket string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MLAPIURL string

	JWTSecretKey  string
	Auth0Issuer   string
	Auth0Audience string

	AllowedOrigins []string
}

// LoadConfig loads the configuration from environment variables.
func LoadConfig() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, relying on system environment variables")
	}

	heartbeatTimeout, err := durationEnv("HEARTBEAT_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}
	sweepInterval, err := durationEnv("SWEEP_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	if sweepInterval >= heartbeatTimeout {
		return Config{}, fmt.Errorf("SWEEP_INTERVAL (%s) must be shorter than HEARTBEAT_TIMEOUT (%s)",
			sweepInterval, heartbeatTimeout)
	}

	redisDB := 0
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		redisDB, err = strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REDIS_DB %q: %w", raw, err)
		}
	}

	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		HeartbeatTimeout: heartbeatTimeout,
		SweepInterval:    sweepInterval,
		InfluxDBURL:      os.Getenv("INFLUXDB_URL"),
		InfluxDBToken:    os.Getenv("INFLUXDB_TOKEN"),
		InfluxDBOrg:      os.Getenv("INFLUXDB_ORG"),
		InfluxDBBucket:   getEnv("INFLUXDB_BUCKET", "pzem_data"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          redisDB,
		MLAPIURL:         os.Getenv("ML_API_URL"),
		JWTSecretKey:     os.Getenv("JWT_SECRET_KEY"),
		Auth0Issuer:      os.Getenv("AUTH0_ISSUER"),
		Auth0Audience:    os.Getenv("AUTH0_AUDIENCE"),
		AllowedOrigins:   []string{getEnv("ALLOWED_ORIGIN", "http://localhost:5173")},
	}

	if cfg.JWTSecretKey == "" {
		return Config{}, fmt.Errorf("JWT_SECRET_KEY must be set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, raw)
	}
	return d, nil
}
