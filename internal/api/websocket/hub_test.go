package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/forgehook/forgehook/internal/models"
)

func TestNewHub(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(ctx)

	assert.NotNil(t, hub)
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.broadcast)
	assert.NotNil(t, hub.register)
	assert.NotNil(t, hub.unregister)
}

func TestHubRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	hub := NewHub(ctx)
	go hub.Run()

	<-ctx.Done()
}

func TestHubClientRegistration(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(ctx)
	go hub.Run()
	defer hub.Stop()

	assert.Equal(t, 0, hub.GetClientCount())

	client := &Client{send: make(chan []byte, 256)}
	hub.register <- client

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, hub.GetClientCount())
}

func TestHubClientUnregistration(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(ctx)
	go hub.Run()
	defer hub.Stop()

	client := &Client{send: make(chan []byte, 256)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, hub.GetClientCount())

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, hub.GetClientCount())
}

func TestHubBroadcastPluginEvent(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(ctx)
	go hub.Run()
	defer hub.Stop()

	err := hub.BroadcastPluginEvent(models.EventPluginStarted, "my-plugin", map[string]interface{}{
		"status": "running",
	})
	assert.NoError(t, err)
}

func TestHubBroadcastPluginEvent_NoSubscribers(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(ctx)
	go hub.Run()
	defer hub.Stop()

	err := hub.BroadcastPluginEvent(models.EventPluginHealthChange, "my-plugin", nil)
	assert.NoError(t, err)
}

func TestHubStop(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(ctx)
	go hub.Run()

	for i := 0; i < 3; i++ {
		client := &Client{send: make(chan []byte, 256)}
		hub.register <- client
	}

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 3, hub.GetClientCount())

	hub.Stop()
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 0, hub.GetClientCount())
}
