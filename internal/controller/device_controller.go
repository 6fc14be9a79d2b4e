package controller

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"CapIot.gateway/internal/models"
	"CapIot.gateway/internal/service"
	"CapIot.gateway/internal/utils"
	"github.com/gorilla/mux"
)

// DeviceController handles the admin HTTP API over connected devices. It is
// the command issuer for the dispatcher; every failure surfaces as the
// GatewayError envelope.
type DeviceController struct {
	service *service.GatewayService
}

// NewDeviceController creates a new DeviceController.
func NewDeviceController(service *service.GatewayService) *DeviceController {
	return &DeviceController{service: service}
}

func respondWithGatewayError(w http.ResponseWriter, err error) {
	if gerr, ok := err.(models.GatewayError); ok {
		utils.RespondWithError(w, gerr)
		return
	}
	utils.RespondWithError(w, models.NewGatewayError(models.ErrorCodeInternalServerError,
		err.Error(), nil, http.StatusInternalServerError))
}

// HandleListDevices returns snapshots of every connected device.
func (c *DeviceController) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := c.service.ListDevices()
	if devices == nil {
		devices = []models.Device{}
	}
	utils.RespondWithJSON(w, http.StatusOK, devices)
}

// HandleGetDevice returns one device's snapshot.
func (c *DeviceController) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceID"]

	dev, err := c.service.GetDevice(deviceID)
	if err != nil {
		respondWithGatewayError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dev)
}

// HandlePushConfig dispatches a config_update to a device.
func (c *DeviceController) HandlePushConfig(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceID"]

	var req struct {
		Config map[string]any `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, models.NewGatewayError(models.ErrorCodeBadRequest,
			fmt.Sprintf("invalid request payload: %v", err), nil, http.StatusBadRequest))
		return
	}
	defer r.Body.Close()

	if len(req.Config) == 0 {
		utils.RespondWithError(w, models.NewGatewayError(models.ErrorCodeMissingParameter,
			"config is required", nil, http.StatusBadRequest))
		return
	}

	if err := c.service.PushConfig(deviceID, req.Config); err != nil {
		respondWithGatewayError(w, err)
		return
	}

	log.Printf("config_update dispatched to device %s", deviceID)
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "config_update dispatched"})
}

// HandleStartSession dispatches a session_start to a device. The session id
// is generated when the request does not carry one.
func (c *DeviceController) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceID"]

	var req struct {
		SessionID string         `json:"sessionId"`
		Params    map[string]any `json:"params"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondWithError(w, models.NewGatewayError(models.ErrorCodeBadRequest,
				fmt.Sprintf("invalid request payload: %v", err), nil, http.StatusBadRequest))
			return
		}
		defer r.Body.Close()
	}

	sessionID, err := c.service.StartSession(deviceID, req.SessionID, req.Params)
	if err != nil {
		respondWithGatewayError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, map[string]string{"sessionId": sessionID})
}

// HandleStopSession dispatches a session_stop to a device.
func (c *DeviceController) HandleStopSession(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["deviceID"]

	sessionID, err := c.service.StopSession(deviceID)
	if err != nil {
		respondWithGatewayError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID})
}
