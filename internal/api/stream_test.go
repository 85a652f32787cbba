package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adrotator/internal/rotation"
)

func dialStream(t *testing.T, env *testEnv, path string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads updates until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) rotation.Update {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var u rotation.Update
		require.NoError(t, conn.ReadJSON(&u))
		if u.Type == typ {
			return u
		}
	}
}

func TestPlacementStream(t *testing.T) {
	env := newTestEnv(t, homeAds()...)
	id := env.mount(t, "u1", `{"position":"home"}`)
	conn := dialStream(t, env, "/sessions/u1/placements/"+id+"/stream")

	initial := readUntil(t, conn, rotation.UpdateState)
	assert.Equal(t, rotation.PhaseArmed, initial.View.Phase)

	env.sched.Advance(time.Second)
	show := readUntil(t, conn, rotation.UpdateShow)
	assert.Equal(t, "a", show.AdID)
	require.NotNil(t, show.View.Ad)

	require.NoError(t, conn.WriteJSON(streamAction{Action: "click"}))
	open := readUntil(t, conn, rotation.UpdateOpen)
	assert.Equal(t, "https://example.com/a", open.TargetURL)
	closing := readUntil(t, conn, rotation.UpdateState)
	assert.Equal(t, rotation.PhaseClosing, closing.View.Phase)

	// Actions that do not apply come back as errors on the stream.
	require.NoError(t, conn.WriteJSON(streamAction{Action: "close"}))
	var errMsg streamError
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Equal(t, "error", errMsg.Type)
	assert.Equal(t, "close", errMsg.Action)

	rec := env.do(http.MethodDelete, "/sessions/u1/placements/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The final state update may precede the close frame.
	var err error
	for err == nil {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = conn.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestPlacementStream_MobileSuppression(t *testing.T) {
	env := newTestEnv(t, homeAds()...)
	id := env.mount(t, "u1", `{"position":"home"}`)
	conn := dialStream(t, env, "/sessions/u1/placements/"+id+"/stream?viewport_width=390")

	readUntil(t, conn, rotation.UpdateState)
	env.sched.Advance(time.Second)

	show := readUntil(t, conn, rotation.UpdateShow)
	assert.Equal(t, "a", show.AdID)
	assert.True(t, show.View.Suppressed)
	assert.Nil(t, show.View.Ad)
	assert.Equal(t, rotation.PhaseVisible, show.View.Phase)
}
