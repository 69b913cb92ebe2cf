package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/airwav/airwav/internal/catalog"
	"github.com/airwav/airwav/internal/engine"
)

// TransportHandler serves the playout control endpoints.
type TransportHandler struct {
	engine Engine
}

// NewTransportHandler creates a transport handler.
func NewTransportHandler(e Engine) *TransportHandler {
	return &TransportHandler{engine: e}
}

// SkipBody reports a skip attempt.
type SkipBody struct {
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// SkipOutput is the output for the skip endpoint.
type SkipOutput struct {
	Body SkipBody
}

// ControlBody reports the engine run state after a control action.
type ControlBody struct {
	OK      bool `json:"ok"`
	Running bool `json:"running"`
}

// ControlOutput is the output for the start and stop endpoints.
type ControlOutput struct {
	Body ControlBody
}

// Register registers the transport routes with the API.
func (h *TransportHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "skipCurrent",
		Method:      "POST",
		Path:        "/dashboard/transport/skip",
		Summary:     "Skip current segment",
		Description: "Aborts the playing segment and advances to the next queued one",
		Tags:        []string{"Transport"},
	}, h.Skip)

	huma.Register(api, huma.Operation{
		OperationID: "startEngine",
		Method:      "POST",
		Path:        "/control/start",
		Summary:     "Start the engine",
		Tags:        []string{"Transport"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "stopEngine",
		Method:      "POST",
		Path:        "/control/stop",
		Summary:     "Stop the engine",
		Tags:        []string{"Transport"},
	}, h.Stop)
}

// Skip aborts the current segment. In timeline mode skipping is not
// supported and the response says so without an error status.
func (h *TransportHandler) Skip(ctx context.Context, input *struct{}) (*SkipOutput, error) {
	skipped, err := h.engine.SkipCurrent()
	if err != nil {
		if errors.Is(err, engine.ErrSkipUnsupported) {
			return &SkipOutput{Body: SkipBody{OK: true, Skipped: false, Reason: err.Error()}}, nil
		}
		return nil, huma.Error500InternalServerError("skipping segment", err)
	}
	return &SkipOutput{Body: SkipBody{OK: true, Skipped: skipped}}, nil
}

// Start brings the engine up.
func (h *TransportHandler) Start(ctx context.Context, input *struct{}) (*ControlOutput, error) {
	if h.engine.Running() {
		return nil, huma.Error409Conflict("engine already running")
	}
	if err := h.engine.Start(context.WithoutCancel(ctx)); err != nil {
		if errors.Is(err, catalog.ErrCatalogInvalid) {
			return nil, huma.Error500InternalServerError("catalog not playable", err)
		}
		return nil, huma.Error500InternalServerError("starting engine", err)
	}
	return &ControlOutput{Body: ControlBody{OK: true, Running: true}}, nil
}

// Stop tears the engine down. Stopping an idle engine is a no-op.
func (h *TransportHandler) Stop(ctx context.Context, input *struct{}) (*ControlOutput, error) {
	h.engine.Stop()
	return &ControlOutput{Body: ControlBody{OK: true, Running: false}}, nil
}
