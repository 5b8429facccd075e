package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	gws "github.com/gobwas/ws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/whisper/roomchat/internal/messaging"
	"github.com/whisper/roomchat/internal/moderation"
	"github.com/whisper/roomchat/internal/presence"
	"github.com/whisper/roomchat/internal/protocol"
)

type testServer struct {
	*Server
	broker   *messaging.LocalBroker
	presence *presence.LocalTracker
	url      string
}

func newTestServer(t *testing.T, opts ...func(*ServerConfig)) *testServer {
	t.Helper()
	broker := messaging.NewLocalBroker()
	tracker := presence.NewLocalTracker()

	cfg := DefaultServerConfig()
	cfg.CloseGrace = 100 * time.Millisecond
	cfg.Heartbeat.Interval = 0
	for _, opt := range opts {
		opt(&cfg)
	}

	srv := NewServer(cfg, broker, tracker, nil, zerolog.Nop())
	require.NoError(t, srv.Start())

	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		p := protocol.Participant{ID: id, Name: r.URL.Query().Get("name")}
		srv.HandleUpgrade(w, r, strings.TrimPrefix(r.URL.Path, "/"), p)
	}))
	t.Cleanup(func() {
		srv.Shutdown()
		hs.Close()
		broker.Close()
	})

	return &testServer{
		Server:   srv,
		broker:   broker,
		presence: tracker,
		url:      "ws" + strings.TrimPrefix(hs.URL, "http"),
	}
}

func (ts *testServer) dial(t *testing.T, roomID string, id int64, name string) *Conn {
	t.Helper()
	want := ts.Connections().Count() + 1

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	target := ts.url + "/" + roomID + "?id=" + strconv.FormatInt(id, 10) + "&name=" + name
	conn, br, _, err := gws.Dial(ctx, target)
	require.NoError(t, err)

	c := NewConn(WithBufferedReader(conn, br), gws.StateClientSide, time.Second)
	t.Cleanup(func() { c.Close() })

	require.Eventually(t, func() bool { return ts.Connections().Count() == want }, 2*time.Second, 5*time.Millisecond)
	return c
}

func readMessage(t *testing.T, c *Conn) protocol.Message {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	data, err := c.ReadText()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func send(t *testing.T, c *Conn, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, c.WriteText(data))
}

func TestServer_ChatEchoedToWholeRoom(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "1", 1, "Alice")
	bob := ts.dial(t, "1", 2, "Bob")

	send(t, alice, protocol.NewChat(protocol.Participant{Name: "Alice"}, "hello"))

	want := protocol.ChatMessage{Author: "Alice", Text: "hello"}
	require.Equal(t, want, readMessage(t, alice))
	require.Equal(t, want, readMessage(t, bob))
}

func TestServer_ChatAuthorIsConnectionParticipant(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "1", 1, "Alice")
	bob := ts.dial(t, "1", 2, "Bob")

	send(t, alice, protocol.ChatMessage{Author: "Mallory", Text: "hi"})

	require.Equal(t, protocol.ChatMessage{Author: "Alice", Text: "hi"}, readMessage(t, bob))
}

func TestServer_SystemFrameSkipsSender(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "1", 1, "Alice")
	bob := ts.dial(t, "1", 2, "Bob")

	send(t, alice, protocol.JoinNotice(protocol.Participant{Name: "Alice"}))
	require.Equal(t, protocol.JoinNotice(protocol.Participant{Name: "Alice"}), readMessage(t, bob))

	// The next thing Alice sees is Bob's chat, not her own notice.
	send(t, bob, protocol.NewChat(protocol.Participant{Name: "Bob"}, "welcome"))
	require.Equal(t, protocol.ChatMessage{Author: "Bob", Text: "welcome"}, readMessage(t, alice))
}

func TestServer_RoomsAreIsolated(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "1", 1, "Alice")
	carol := ts.dial(t, "2", 3, "Carol")

	send(t, alice, protocol.NewChat(protocol.Participant{Name: "Alice"}, "room one"))
	send(t, carol, protocol.NewChat(protocol.Participant{Name: "Carol"}, "room two"))

	require.Equal(t, protocol.ChatMessage{Author: "Alice", Text: "room one"}, readMessage(t, alice))
	require.Equal(t, protocol.ChatMessage{Author: "Carol", Text: "room two"}, readMessage(t, carol))
}

func TestServer_MalformedFrameDropped(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "1", 1, "Alice")
	bob := ts.dial(t, "1", 2, "Bob")

	require.NoError(t, alice.WriteText([]byte(`{not json`)))
	send(t, alice, protocol.NewChat(protocol.Participant{Name: "Alice"}, "after"))

	require.Equal(t, protocol.ChatMessage{Author: "Alice", Text: "after"}, readMessage(t, bob))
}

func TestServer_InvalidTextNotifiesSenderOnly(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "1", 1, "Alice")
	bob := ts.dial(t, "1", 2, "Bob")

	send(t, alice, protocol.ChatMessage{Author: "Alice", Text: strings.Repeat("x", protocol.MaxMessageBytes+1)})
	notice, ok := readMessage(t, alice).(protocol.SystemMessage)
	require.True(t, ok)
	require.Contains(t, notice.Text, "byte limit")

	send(t, alice, protocol.NewChat(protocol.Participant{Name: "Alice"}, "short"))
	require.Equal(t, protocol.ChatMessage{Author: "Alice", Text: "short"}, readMessage(t, bob))
}

func TestServer_OversizedFrameClosesChannel(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "1", 1, "Alice")
	bob := ts.dial(t, "1", 2, "Bob")

	big := `{"message":"` + strings.Repeat("x", int(protocol.MaxFrameBytes)) + `","username":"Alice"}`
	require.NoError(t, alice.WriteText([]byte(big)))

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := alice.ReadText()
	var closed *CloseError
	require.ErrorAs(t, err, &closed)
	require.Equal(t, int(gws.StatusMessageTooBig), closed.Code)

	require.Eventually(t, func() bool { return ts.Connections().Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The rest of the room is unaffected.
	carol := ts.dial(t, "1", 3, "Carol")
	send(t, carol, protocol.NewChat(protocol.Participant{Name: "Carol"}, "still here"))
	require.Equal(t, protocol.ChatMessage{Author: "Carol", Text: "still here"}, readMessage(t, bob))
}

func TestServer_RoomDeletedClosesChannels(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "1", 1, "Alice")
	bob := ts.dial(t, "1", 2, "Bob")
	carol := ts.dial(t, "2", 3, "Carol")

	count, _ := ts.presence.Count(context.Background(), "1")
	require.Equal(t, int64(2), count)

	require.NoError(t, ts.broker.PublishRoomDeleted("1"))

	for _, c := range []*Conn{alice, bob} {
		require.Equal(t, protocol.DeletedNotice(), readMessage(t, c))

		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, err := c.ReadText()
		var closed *CloseError
		require.ErrorAs(t, err, &closed)
		require.Equal(t, protocol.CloseRoomDeleted, closed.Code)
	}

	require.Equal(t, 0, ts.Connections().RoomCount("1"))
	require.Equal(t, 1, ts.Connections().Count())
	count, _ = ts.presence.Count(context.Background(), "1")
	require.Zero(t, count)

	send(t, carol, protocol.NewChat(protocol.Participant{Name: "Carol"}, "still here"))
	require.Equal(t, protocol.ChatMessage{Author: "Carol", Text: "still here"}, readMessage(t, carol))
}

func TestServer_ClientCloseRemovesConnection(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "1", 1, "Alice")

	require.NoError(t, alice.WriteClose(1000, ""))
	require.Eventually(t, func() bool { return ts.Connections().Count() == 0 }, 2*time.Second, 5*time.Millisecond)

	count, _ := ts.presence.Count(context.Background(), "1")
	require.Zero(t, count)

	ts.subsMu.Lock()
	_, subscribed := ts.roomSubs["1"]
	ts.subsMu.Unlock()
	require.False(t, subscribed)
}

func TestServer_MaxConnections(t *testing.T) {
	ts := newTestServer(t, func(cfg *ServerConfig) { cfg.MaxConnections = 1 })
	ts.dial(t, "1", 1, "Alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, _, err := gws.Dial(ctx, ts.url+"/1?id=2&name=Bob")
	require.Error(t, err)
}

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()
	a := &Connection{ID: "a", RoomID: "1"}
	b := &Connection{ID: "b", RoomID: "1"}
	c := &Connection{ID: "c", RoomID: "2"}
	cm.Add(a)
	cm.Add(b)
	cm.Add(c)

	require.Equal(t, 3, cm.Count())
	require.Equal(t, 2, cm.RoomCount("1"))
	require.ElementsMatch(t, []*Connection{a, b}, cm.InRoom("1"))
	require.Same(t, c, cm.Get("c"))

	require.True(t, cm.Remove("a"))
	require.False(t, cm.Remove("a"))
	require.Nil(t, cm.Get("a"))
	require.Equal(t, 1, cm.RoomCount("1"))

	require.True(t, cm.Remove("b"))
	require.Empty(t, cm.InRoom("1"))
	require.Len(t, cm.All(), 1)
}

func TestServer_FilteredTextNotRelayed(t *testing.T) {
	ts := newTestServer(t, func(cfg *ServerConfig) {
		cfg.Filter = moderation.NewFilter([]string{"badword"}, false)
	})
	alice := ts.dial(t, "1", 1, "Alice")
	bob := ts.dial(t, "1", 2, "Bob")

	send(t, alice, protocol.NewChat(protocol.Participant{Name: "Alice"}, "you badword"))
	_, ok := readMessage(t, alice).(protocol.SystemMessage)
	require.True(t, ok)

	send(t, alice, protocol.NewChat(protocol.Participant{Name: "Alice"}, "sorry"))
	require.Equal(t, protocol.ChatMessage{Author: "Alice", Text: "sorry"}, readMessage(t, bob))
}
