package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/pipeline-crm/internal/events"
)

func TestHubBroadcastsPipelineEvents(t *testing.T) {
	hub := NewHub(nil)
	bus := events.NewBus(nil)
	hub.Attach(bus)

	srv := httptest.NewServer(http.HandlerFunc(hub.Serve))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	bus.Publish(context.Background(), events.New(events.TopicStageChanged, events.StageChanged{ProspectID: 3, StageName: "Won"}))
	bus.Publish(context.Background(), events.New(events.TopicUserInvited, events.UserInvited{Email: "x@example.com"}))
	bus.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Action  string         `json:"action"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.TopicStageChanged, msg.Action)
	assert.Equal(t, "Won", msg.Payload["stage_name"])

	conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubConcurrentBroadcast(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.Serve))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	live, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer live.Close()
	gone, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 10*time.Millisecond)

	gone.Close()
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	const senders, perSender = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				hub.Broadcast(Message{Action: events.TopicStageChanged, Payload: j})
			}
		}()
	}

	require.NoError(t, live.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < senders*perSender; i++ {
		var msg Message
		require.NoError(t, live.ReadJSON(&msg))
		assert.Equal(t, events.TopicStageChanged, msg.Action)
	}
	wg.Wait()

	hub.Close()
	assert.Zero(t, hub.Count())
}
