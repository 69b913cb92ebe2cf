package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// HealthHandler serves the liveness probe.
type HealthHandler struct{}

// NewHealthHandler creates a health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// HealthzInput is the input for the health check endpoint.
type HealthzInput struct{}

// HealthzBody is the health check response body.
type HealthzBody struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
}

// HealthzOutput is the output for the health check endpoint.
type HealthzOutput struct {
	Body HealthzBody
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealthz",
		Method:      "GET",
		Path:        "/healthz",
		Summary:     "Health check",
		Description: "Returns ok while the process is up",
		Tags:        []string{"System"},
	}, h.GetHealthz)
}

// GetHealthz returns the liveness body.
func (h *HealthHandler) GetHealthz(ctx context.Context, input *HealthzInput) (*HealthzOutput, error) {
	return &HealthzOutput{
		Body: HealthzBody{OK: true, Service: "airwav"},
	}, nil
}
