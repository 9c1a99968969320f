package bridge

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
)

func dialSurface(t *testing.T, srv *httptest.Server, surface string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/bridge/" + surface
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWebSocket_RoundTrip(t *testing.T) {
	areas := &mockAreas{areas: domain.AreaSet{"a1": {ID: "a1", Ring: ring}}}
	b := newTestBridge(areas, &staticFix{loc: fixAtKingston})
	srv := httptest.NewServer(setupRouter(b))
	defer srv.Close()

	conn := dialSurface(t, srv, "main")
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mapReady"}`)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"areasSnapshot","areas":{"a1":{"coordinates":[[-76.92,17.996],[-76.922,17.995],[-76.921,17.994]],"properties":{"id":"a1"}}}}`, string(first))

	_, second, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"viewTo","lat":17.995,"lng":-76.921,"zoom":15}`, string(second))

	assert.Eventually(t, func() bool {
		s := b.Sessions()
		return len(s) == 1 && s[0].State == StateActive
	}, time.Second, 5*time.Millisecond)
}

func TestWebSocket_CleanCloseDetaches(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{})
	srv := httptest.NewServer(setupRouter(b))
	defer srv.Close()

	conn := dialSurface(t, srv, "main")
	require.Eventually(t, func() bool { return len(b.Sessions()) == 1 }, time.Second, 5*time.Millisecond)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, msg))
	conn.Close()

	assert.Eventually(t, func() bool { return len(b.Sessions()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestWebSocket_AbruptCloseMarksUnavailable(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{})
	srv := httptest.NewServer(setupRouter(b))
	defer srv.Close()

	conn := dialSurface(t, srv, "main")
	require.Eventually(t, func() bool { return len(b.Sessions()) == 1 }, time.Second, 5*time.Millisecond)
	conn.Close()

	assert.Eventually(t, func() bool {
		s := b.Sessions()
		return len(s) == 1 && s[0].State == StateUnavailable
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Retry("main"))

	again := dialSurface(t, srv, "main")
	defer again.Close()
	require.NoError(t, again.WriteMessage(websocket.TextMessage, []byte(`{"type":"mapReady"}`)))
	assert.Eventually(t, func() bool {
		s := b.Sessions()
		return len(s) == 1 && s[0].State == StateReady
	}, time.Second, 5*time.Millisecond)
}

func TestWebSocket_OversizedMessageMarksUnavailable(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{})
	srv := httptest.NewServer(setupRouter(b))
	defer srv.Close()

	conn := dialSurface(t, srv, "main")
	defer conn.Close()
	require.Eventually(t, func() bool { return len(b.Sessions()) == 1 }, time.Second, 5*time.Millisecond)

	big := `{"type":"polygon","pad":"` + strings.Repeat("x", maxPostbackSize) + `"}`
	// The server may hang up before the whole frame is written.
	_ = conn.WriteMessage(websocket.TextMessage, []byte(big))

	assert.Eventually(t, func() bool {
		s := b.Sessions()
		return len(s) == 1 && s[0].State == StateUnavailable
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_CloseDisconnectsSurfaces(t *testing.T) {
	b := newTestBridge(&mockAreas{}, &staticFix{})
	srv := httptest.NewServer(setupRouter(b))
	defer srv.Close()

	conn := dialSurface(t, srv, "main")
	defer conn.Close()
	require.Eventually(t, func() bool { return len(b.Sessions()) == 1 }, time.Second, 5*time.Millisecond)

	b.Close()
	assert.Empty(t, b.Sessions())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "surface connection must be closed by the server")
	}
}
