package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/airwav/airwav/internal/catalog"
	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/state"
)

// StatusHandler serves the station status summary.
type StatusHandler struct {
	store    *state.Store
	rotation RotationSource
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(store *state.Store, rotation RotationSource) *StatusHandler {
	return &StatusHandler{store: store, rotation: rotation}
}

// StatusInput is the input for the status endpoint.
type StatusInput struct{}

// StatusBody summarizes the station for quick polling.
type StatusBody struct {
	Running      bool               `json:"running"`
	TracksLoaded int                `json:"tracksLoaded"`
	Phase        model.Phase        `json:"phase"`
	BufferedSec  float64            `json:"bufferedSec"`
	LastPlayed   []catalog.Track    `json:"lastPlayed"`
	LastError    *model.StreamError `json:"lastError"`
}

// StatusOutput is the output for the status endpoint.
type StatusOutput struct {
	Body StatusBody
}

// Register registers the status route with the API.
func (h *StatusHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/status",
		Summary:     "Station status",
		Description: "Returns the playout state, rotation phase and recent history",
		Tags:        []string{"System"},
	}, h.GetStatus)
}

// GetStatus returns the status summary.
func (h *StatusHandler) GetStatus(ctx context.Context, input *StatusInput) (*StatusOutput, error) {
	snap := h.store.Snapshot()

	lastPlayed := h.rotation.LastPlayed()
	if lastPlayed == nil {
		lastPlayed = []catalog.Track{}
	}

	return &StatusOutput{
		Body: StatusBody{
			Running:      snap.Running,
			TracksLoaded: snap.TracksLoaded,
			Phase:        h.rotation.Phase(),
			BufferedSec:  snap.BufferedSec,
			LastPlayed:   lastPlayed,
			LastError:    snap.LastError,
		},
	}, nil
}
