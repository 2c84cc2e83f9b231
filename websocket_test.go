package main

import (
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWebSocketDownloads tests the live download stream end to end
func TestWebSocketDownloads(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup(t)

	conn := helper.ConnectWebSocket(t, "/api/ws/downloads")
	defer conn.Close()

	helper.ReadUntil(t, conn, 3*time.Second, func(u wsUpdate) bool {
		return u.Type == "connected"
	})
	assert.True(t, helper.App.Downloads.Connected())

	jobID := helper.StartDownload(t, "https://example.com/videos/live.mp4")

	update := helper.ReadUntil(t, conn, 3*time.Second, func(u wsUpdate) bool {
		return u.Type == "snapshot" && len(u.Downloads) == 1
	})
	assert.Equal(t, jobID, update.Downloads[0].ID)
	assert.Equal(t, "live.mp4", update.Downloads[0].Title)

	helper.ReadUntil(t, conn, 5*time.Second, func(u wsUpdate) bool {
		return u.Type == "snapshot" && len(u.Downloads) == 1 && u.Downloads[0].Finished
	})
}

// TestWebSocketNewestFirst tests that snapshots are ordered by creation time
func TestWebSocketNewestFirst(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup(t)

	older := helper.StartDownload(t, "https://example.com/older.mp4")
	time.Sleep(5 * time.Millisecond)
	newer := helper.StartDownload(t, "https://example.com/newer.mp4")

	conn := helper.ConnectWebSocket(t, "/api/ws/downloads")
	defer conn.Close()

	update := helper.ReadUntil(t, conn, 3*time.Second, func(u wsUpdate) bool {
		return u.Type == "snapshot" && len(u.Downloads) == 2
	})
	assert.Equal(t, newer, update.Downloads[0].ID)
	assert.Equal(t, older, update.Downloads[1].ID)
}

// TestWebSocketConcurrentConnections tests that listeners share one push channel
func TestWebSocketConcurrentConnections(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup(t)

	numConnections := 3
	var wg sync.WaitGroup
	wg.Add(numConnections)

	for i := 0; i < numConnections; i++ {
		go func() {
			defer wg.Done()
			conn := helper.ConnectWebSocket(t, "/api/ws/downloads")
			defer conn.Close()

			helper.ReadUntil(t, conn, 3*time.Second, func(u wsUpdate) bool {
				return u.Type == "connected"
			})
		}()
	}
	wg.Wait()

	helper.AssertEventuallyNoListeners(t)
	assert.False(t, helper.App.Downloads.Connected())
}

// TestWebSocketConnectionCleanup tests that the last listener closes the push channel
func TestWebSocketConnectionCleanup(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup(t)

	conn := helper.ConnectWebSocket(t, "/api/ws/downloads")
	helper.ReadUntil(t, conn, 3*time.Second, func(u wsUpdate) bool {
		return u.Type == "connected"
	})
	require.Equal(t, 1, helper.App.Downloads.Listeners())

	require.NoError(t, conn.Close())
	helper.AssertEventuallyNoListeners(t)
	assert.Eventually(t, func() bool {
		return helper.App.Socket.State().String() == "disconnected"
	}, 2*time.Second, 20*time.Millisecond)

	// a new listener reopens it
	conn = helper.ConnectWebSocket(t, "/api/ws/downloads")
	defer conn.Close()
	helper.ReadUntil(t, conn, 3*time.Second, func(u wsUpdate) bool {
		return u.Type == "connected"
	})
}

// countUpdates tallies dashboard updates by type until window passes
func countUpdates(t *testing.T, conn *websocket.Conn, window time.Duration) map[string]int {
	counts := map[string]int{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(window)))
	for {
		var update wsUpdate
		if err := conn.ReadJSON(&update); err != nil {
			return counts
		}
		counts[update.Type]++
	}
}

// TestWebSocketConnectionLostOnce tests that each browser hears about an
// unreachable backend exactly once
func TestWebSocketConnectionLostOnce(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup(t)
	helper.Backend.Close()

	first := helper.ConnectWebSocket(t, "/api/ws/downloads")
	defer first.Close()
	require.Eventually(t, func() bool {
		return helper.App.Downloads.Listeners() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// a browser joining later starts from the recorded loss
	second := helper.ConnectWebSocket(t, "/api/ws/downloads")
	defer second.Close()

	firstCounts := countUpdates(t, first, 500*time.Millisecond)
	secondCounts := countUpdates(t, second, 100*time.Millisecond)

	assert.Equal(t, map[string]int{"connection_lost": 1}, firstCounts)
	assert.Equal(t, map[string]int{"connection_lost": 1}, secondCounts)
	assert.False(t, helper.App.Downloads.Connected())
}
