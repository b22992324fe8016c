package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, hub.HasClients, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, hub.ClientCount())

	require.NoError(t, hub.Broadcast(map[string]string{"type": "quantiles"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"quantiles"}`, string(msg))

	conn.Close()
	require.Eventually(t, func() bool { return !hub.HasClients() }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	hub := NewHub(nil)
	require.False(t, hub.HasClients())
	require.NoError(t, hub.Broadcast([]int{1, 2, 3}))
	require.Error(t, hub.Broadcast(func() {}))
}
