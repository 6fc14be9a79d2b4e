package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CapIot.gateway/internal/config"
	"CapIot.gateway/internal/controller"
	"CapIot.gateway/internal/dispatch"
	"CapIot.gateway/internal/heartbeat"
	"CapIot.gateway/internal/middleware"
	"CapIot.gateway/internal/prediction"
	"CapIot.gateway/internal/presence"
	"CapIot.gateway/internal/registry"
	"CapIot.gateway/internal/repository"
	"CapIot.gateway/internal/routes"
	"CapIot.gateway/internal/service"
	"CapIot.gateway/internal/transport"
	"github.com/rs/cors"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	// Persistence sink. The gateway runs without it when InfluxDB is not
	// configured; readings are then only logged.
	var sink service.ReadingSink
	var repo *repository.InfluxDBRepository
	if cfg.InfluxDBURL != "" {
		repo, err = repository.NewInfluxDBRepository(cfg.InfluxDBURL, cfg.InfluxDBToken,
			cfg.InfluxDBOrg, cfg.InfluxDBBucket)
		if err != nil {
			log.Fatalf("Error initializing InfluxDB: %v", err)
		}
		defer repo.Close()
		sink = repo
		log.Println("Successfully connected to InfluxDB!")
	} else {
		log.Println("INFLUXDB_URL not set, readings will not be persisted")
	}

	// Presence mirror. Best effort: a missing Redis only disables it.
	var presenceStore service.PresenceStore
	if cfg.RedisAddr != "" {
		store, err := presence.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Printf("Error initializing Redis, presence disabled: %v", err)
		} else {
			defer store.Close()
			presenceStore = store
		}
	}

	var predictor service.EnergyPredictor
	if cfg.MLAPIURL != "" {
		predictor = prediction.NewClient(cfg.MLAPIURL)
	}

	reg := registry.New()
	dispatcher := dispatch.NewDispatcher(reg)
	gateway := service.NewGatewayService(reg, dispatcher, sink, predictor,
		presenceStore, cfg.HeartbeatTimeout)

	monitor := heartbeat.NewMonitor(reg, gateway.EvictExpired,
		cfg.HeartbeatTimeout, cfg.SweepInterval)
	monitor.Start()

	auth, err := middleware.NewAuthenticator(cfg.JWTSecretKey, cfg.Auth0Issuer, cfg.Auth0Audience)
	if err != nil {
		log.Fatalf("Error initializing authentication: %v", err)
	}

	ws := transport.NewWSTransport(gateway)
	devices := controller.NewDeviceController(gateway)
	router := routes.SetupRouter(ws, devices, auth)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: c.Handler(router),
	}

	go func() {
		log.Printf("Gateway is running on port %s...", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Error starting server: %v", err)
		}
	}()

	// Drain on SIGINT/SIGTERM: stop accepting, stop the sweeper, close every
	// live device connection.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	}
	monitor.Stop()
	gateway.Shutdown()
	log.Println("Gateway stopped")
}
