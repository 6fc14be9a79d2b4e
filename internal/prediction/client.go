package prediction

import (
	"context"
	"fmt"
	"time"

	"CapIot.gateway/internal/models"
	"github.com/go-resty/resty/v2"
)

// Client calls the energy prediction service's /predict endpoint. The model
// itself lives behind that service; the gateway only submits feature vectors
// out-of-band after persisting a reading.
type Client struct {
	http *resty.Client
}

type predictRequest struct {
	Voltage   float64 `json:"voltage"`
	Current   float64 `json:"current"`
	Power     float64 `json:"power"`
	Frequency float64 `json:"frequency"`
}

type predictResponse struct {
	PredictedEnergy float64 `json:"predicted_energy"`
}

// NewClient creates a prediction client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5 * time.Second),
	}
}

// PredictEnergy submits one reading's features and returns the predicted
// energy demand.
func (c *Client) PredictEnergy(ctx context.Context, reading models.Reading) (float64, error) {
	var result predictResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(predictRequest{
			Voltage:   reading.Voltage,
			Current:   reading.Current,
			Power:     reading.Power,
			Frequency: reading.Frequency,
		}).
		SetResult(&result).
		Post("/predict")
	if err != nil {
		return 0, fmt.Errorf("prediction request failed: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("prediction service returned %s: %s", resp.Status(), resp.Body())
	}
	return result.PredictedEnergy, nil
}
