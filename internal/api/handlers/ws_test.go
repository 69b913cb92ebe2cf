package handlers

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/state"
)

func newWSServer(t *testing.T) (*state.Store, *httptest.Server) {
	t.Helper()
	st := state.New(testLogger())
	h := NewWSHandler(st)
	r := chi.NewRouter()
	h.RegisterChiRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return st, srv
}

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env wsEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestWSSnapshotOnConnect(t *testing.T) {
	st, srv := newWSServer(t)
	st.CatalogReloaded(3)

	conn := dialWS(t, srv, "")

	env := readEnvelope(t, conn)
	require.Equal(t, "snapshot", env.Type)
	require.NotNil(t, env.Snapshot)
	assert.Equal(t, 3, env.Snapshot.TracksLoaded)
	assert.Equal(t, st.Revision(), env.Revision)
	assert.Nil(t, env.Event)

	st.SegmentStarted(testSegment("seg-1", model.SegmentKindSong), nil)

	env = readEnvelope(t, conn)
	require.Equal(t, "event", env.Type)
	require.NotNil(t, env.Event)
	assert.Equal(t, model.EventSegmentStarted, env.Event.Event)
	assert.Equal(t, uint64(2), env.Revision)
}

func TestWSReplayFromKnownRevision(t *testing.T) {
	st, srv := newWSServer(t)
	st.CatalogReloaded(1)
	base := st.Revision()
	st.CatalogReloaded(2)
	st.CatalogReloaded(3)

	conn := dialWS(t, srv, fmt.Sprintf("?lastRevision=%d", base))

	env := readEnvelope(t, conn)
	require.Equal(t, "event", env.Type)
	assert.Equal(t, base+1, env.Revision)

	env = readEnvelope(t, conn)
	require.Equal(t, "event", env.Type)
	assert.Equal(t, base+2, env.Revision)

	// Live events continue after the replay with no duplicates.
	st.CatalogReloaded(4)
	env = readEnvelope(t, conn)
	require.Equal(t, "event", env.Type)
	assert.Equal(t, base+3, env.Revision)
}

func TestWSCurrentRevisionGetsNoReplay(t *testing.T) {
	st, srv := newWSServer(t)
	st.CatalogReloaded(1)
	cur := st.Revision()

	conn := dialWS(t, srv, fmt.Sprintf("?lastRevision=%d", cur))

	st.CatalogReloaded(2)
	env := readEnvelope(t, conn)
	require.Equal(t, "event", env.Type)
	assert.Equal(t, cur+1, env.Revision)
}

func TestWSStaleRevisionFallsBackToSnapshot(t *testing.T) {
	st, srv := newWSServer(t)
	// Push the replay ring past its capacity so revision 1 is gone.
	for i := 0; i < 220; i++ {
		st.CatalogReloaded(i)
	}

	conn := dialWS(t, srv, "?lastRevision=1")

	env := readEnvelope(t, conn)
	require.Equal(t, "snapshot", env.Type)
	require.NotNil(t, env.Snapshot)
	assert.Equal(t, uint64(220), env.Revision)
}

func TestWSInvalidRevisionFallsBackToSnapshot(t *testing.T) {
	st, srv := newWSServer(t)
	st.CatalogReloaded(5)

	conn := dialWS(t, srv, "?lastRevision=bogus")

	env := readEnvelope(t, conn)
	require.Equal(t, "snapshot", env.Type)
}
