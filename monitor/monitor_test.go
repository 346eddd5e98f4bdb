package monitor_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muchq/tensorgraph/monitor"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterPublishesToConnectedClient(t *testing.T) {
	b := monitor.New()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.ServeWs)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the server goroutine a moment to register the client before
	// publishing, since registration crosses a channel asynchronously.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.Publish(monitor.Event{Version: "v2", DeltaBytes: 128, Op: "upd_weights"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got monitor.Event
	require.NoError(t, json.Unmarshal(msg, &got))
	require.Equal(t, "v2", got.Version)
	require.Equal(t, 128, got.DeltaBytes)
	require.Equal(t, "upd_weights", got.Op)
}
