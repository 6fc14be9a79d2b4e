package utils

import (
	"encoding/json"
	"log"
	"net/http"

	"CapIot.gateway/internal/models"
)

// RespondWithError sends a JSON error response using the GatewayError model.
// The HTTP status comes from the error itself.
func RespondWithError(writer http.ResponseWriter, gerr models.GatewayError) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(gerr.StatusCode)

	if err := json.NewEncoder(writer).Encode(gerr); err != nil {
		log.Printf("Failed to encode error response: %v", err)
		http.Error(writer, "Failed to send error response", http.StatusInternalServerError)
	}
}

// RespondWithJSON sends a JSON success response.
func RespondWithJSON(writer http.ResponseWriter, statusCode int, payload interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(writer).Encode(payload); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
		http.Error(writer, "Failed to send JSON response", http.StatusInternalServerError)
	}
}
