package routes

import (
	"fmt"
	"net/http"

	"CapIot.gateway/internal/controller"
	"CapIot.gateway/internal/middleware"
	"CapIot.gateway/internal/transport"
	"github.com/gorilla/mux"
)

// SetupRouter defines all API routes. The device WebSocket endpoint is
// unauthenticated (devices identify themselves in the register frame); read
// endpoints take Auth0 tokens and command endpoints the shared-secret JWT.
func SetupRouter(ws *transport.WSTransport, devices *controller.DeviceController,
	auth *middleware.Authenticator) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/ws/esp32", ws.HandleDeviceSocket)

	router.Handle("/devices",
		auth.EnsureValidToken(http.HandlerFunc(devices.HandleListDevices))).Methods("GET")
	router.Handle("/devices/{deviceID}",
		auth.EnsureValidToken(http.HandlerFunc(devices.HandleGetDevice))).Methods("GET")

	router.Handle("/devices/{deviceID}/config",
		auth.JWTMiddleware(http.HandlerFunc(devices.HandlePushConfig))).Methods("POST")
	router.Handle("/devices/{deviceID}/session/start",
		auth.JWTMiddleware(http.HandlerFunc(devices.HandleStartSession))).Methods("POST")
	router.Handle("/devices/{deviceID}/session/stop",
		auth.JWTMiddleware(http.HandlerFunc(devices.HandleStopSession))).Methods("POST")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}).Methods("GET")

	return router
}
