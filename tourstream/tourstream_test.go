package tourstream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	knighttour "github.com/sandeepkv93/parallelknighttour"
)

func dialTestServer(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, s.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerBroadcast(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()

	ts := httptest.NewServer(s)
	defer ts.Close()

	conn := dialTestServer(t, ts)
	defer conn.Close()
	waitForClients(t, s, 1)

	sent := Event{
		Unit:   3,
		Closed: true,
		StartX: 1, StartY: 1,
		LastX: 2, LastY: 3,
		Board:   [][]int{{1, 2}, {3, 4}},
		FoundAt: time.Now(),
	}
	s.Publish(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, sent.Unit, got.Unit)
	assert.True(t, got.Closed)
	assert.Equal(t, sent.Board, got.Board)
	assert.Equal(t, 2, got.LastX)
	assert.Equal(t, 3, got.LastY)
}

func TestServerMultipleSubscribers(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()

	ts := httptest.NewServer(s)
	defer ts.Close()

	first := dialTestServer(t, ts)
	defer first.Close()
	second := dialTestServer(t, ts)
	defer second.Close()
	waitForClients(t, s, 2)

	s.Publish(Event{Unit: 7})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got Event
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, 7, got.Unit)
	}
}

func TestServerSubscriberDisconnect(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()

	ts := httptest.NewServer(s)
	defer ts.Close()

	conn := dialTestServer(t, ts)
	waitForClients(t, s, 1)

	conn.Close()
	waitForClients(t, s, 0)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()

	// Must not block or panic.
	s.Publish(Event{Unit: 1})
}

func TestPublishAfterClose(t *testing.T) {
	s := NewServer(nil)
	s.Close()
	s.Publish(Event{Unit: 1})
	assert.Zero(t, s.ClientCount())
}

func TestTourHandlerSnapshotsBoard(t *testing.T) {
	s := NewServer(nil)
	defer s.Close()

	ts := httptest.NewServer(s)
	defer ts.Close()

	conn := dialTestServer(t, ts)
	defer conn.Close()
	waitForClients(t, s, 1)

	board := knighttour.NewBoard(2, 2)
	board.Mark(knighttour.Cell{X: 0, Y: 0}, 1)
	board.Mark(knighttour.Cell{X: 1, Y: 1}, 2)

	handler := s.TourHandler()
	handler(knighttour.TourEvent{
		Unit:   0,
		Start:  knighttour.Cell{X: 0, Y: 0},
		Last:   knighttour.Cell{X: 1, Y: 1},
		Closed: false,
		Board:  board,
	})

	// The engine reuses its board after the callback returns; the frame
	// must carry the values as they were at publish time.
	board.Reset()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, [][]int{{1, 0}, {0, 2}}, got.Board)
	assert.False(t, got.Closed)
}
