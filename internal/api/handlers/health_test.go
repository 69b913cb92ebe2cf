package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHealthz(t *testing.T) {
	h := NewHealthHandler()

	out, err := h.GetHealthz(context.Background(), &HealthzInput{})
	require.NoError(t, err)
	assert.True(t, out.Body.OK)
	assert.Equal(t, "airwav", out.Body.Service)
}
