package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/whisper/roomchat/internal/lifecycle"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/room"
	"github.com/whisper/roomchat/internal/room/roomtest"
	"github.com/whisper/roomchat/internal/session"
	"github.com/whisper/roomchat/internal/transport"
	"github.com/whisper/roomchat/internal/transport/transporttest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	alice = protocol.Participant{ID: 9, Name: "Alice"}
	owner = protocol.Participant{ID: 7, Name: "Olivia"}
)

func openSession(t *testing.T, dir *roomtest.Directory, p protocol.Participant) (*session.Session, *transporttest.FakeConn) {
	t.Helper()
	conn := transporttest.NewFakeConn()
	tr := transport.New(&transporttest.FakeDialer{Conn: conn}, transport.Config{BaseURL: "ws://rooms.test"}, zerolog.Nop())

	s, err := session.Open(context.Background(), session.Deps{
		Directory: dir,
		Transport: tr,
		Logger:    zerolog.Nop(),
	}, "42", p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background(), "test done") })
	return s, conn
}

func newDirectory() *roomtest.Directory {
	return roomtest.NewDirectory(room.Room{ID: "42", Name: "general", OwnerID: 7})
}

func TestDeleteRoom_NonOwnerMakesNoRequest(t *testing.T) {
	dir := newDirectory()
	s, conn := openSession(t, dir, alice)
	c := lifecycle.New(dir, zerolog.Nop())

	nav, err := c.DeleteRoom(context.Background(), s)

	var authErr *lifecycle.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, int64(9), authErr.ParticipantID)
	require.Equal(t, lifecycle.Stay, nav)
	require.Zero(t, dir.DeleteCalls())
	require.Equal(t, session.Active, s.State())
	require.Len(t, conn.Writes(), 1)
}

func TestDeleteRoom_Owner(t *testing.T) {
	dir := newDirectory()
	s, conn := openSession(t, dir, owner)
	c := lifecycle.New(dir, zerolog.Nop())

	nav, err := c.DeleteRoom(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, lifecycle.NavigateAway, nav)

	require.Equal(t, 1, dir.DeleteCalls())
	require.False(t, dir.Has("42"))
	require.Equal(t, []protocol.Message{
		protocol.JoinNotice(owner),
		protocol.DeletedNotice(),
		protocol.LeaveNotice(owner),
	}, conn.Messages())
	require.Equal(t, transport.CloseNormal, conn.CloseCode())

	require.Equal(t, session.Terminated, s.State())
	require.Equal(t, transport.Closed, s.Channel().State())
	require.ErrorIs(t, s.PostMessage("late"), transport.ErrChannelNotOpen)
}

func TestDeleteRoom_MutationFailureKeepsChannel(t *testing.T) {
	dir := newDirectory()
	dir.DeleteErr = errors.New("database unavailable")
	s, conn := openSession(t, dir, owner)
	c := lifecycle.New(dir, zerolog.Nop())

	nav, err := c.DeleteRoom(context.Background(), s)

	var mutErr *room.MutationFailedError
	require.ErrorAs(t, err, &mutErr)
	require.Equal(t, lifecycle.Stay, nav)
	require.Equal(t, session.Active, s.State())
	require.Equal(t, transport.Open, s.Channel().State())
	// Nothing was broadcast: the room still exists.
	require.Equal(t, []protocol.Message{protocol.JoinNotice(owner)}, conn.Messages())
}

func TestDeleteRoom_ChannelLostWhileDeleteFails(t *testing.T) {
	errReset := errors.New("connection reset")
	dir := newDirectory()
	dir.DeleteErr = errors.New("database unavailable")
	s, conn := openSession(t, dir, owner)
	dir.OnDelete = func() {
		conn.Fail(errReset)
		<-s.Channel().Done()
	}
	c := lifecycle.New(dir, zerolog.Nop())

	nav, err := c.DeleteRoom(context.Background(), s)

	var mutErr *room.MutationFailedError
	require.ErrorAs(t, err, &mutErr)
	require.Equal(t, lifecycle.Stay, nav)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not terminate")
	}
	require.Equal(t, session.Terminated, s.State())
	require.ErrorIs(t, s.Err(), errReset)
	require.Equal(t, transport.Errored, s.Channel().State())
	require.ErrorIs(t, s.PostMessage("still there?"), transport.ErrChannelNotOpen)
	require.True(t, dir.Has("42"))
}

func TestDeleteRoom_TerminatedSession(t *testing.T) {
	dir := newDirectory()
	s, conn := openSession(t, dir, owner)
	c := lifecycle.New(dir, zerolog.Nop())

	conn.RemoteClose(protocol.CloseRoomDeleted)
	<-s.Done()

	_, err := c.DeleteRoom(context.Background(), s)
	require.ErrorIs(t, err, session.ErrNotActive)
	require.Zero(t, dir.DeleteCalls())
}

func TestLeaveRoom(t *testing.T) {
	dir := newDirectory()
	s, conn := openSession(t, dir, alice)
	c := lifecycle.New(dir, zerolog.Nop())

	nav, err := c.LeaveRoom(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, lifecycle.NavigateAway, nav)

	require.Equal(t, []protocol.Message{
		protocol.JoinNotice(alice),
		protocol.LeaveNotice(alice),
	}, conn.Messages())
	require.Equal(t, protocol.Message(protocol.LeaveNotice(alice)), s.Messages()[len(s.Messages())-1])
	require.Equal(t, transport.Closed, s.Channel().State())

	require.Zero(t, dir.DeleteCalls())
	require.True(t, dir.Has("42"))
}

func TestLeaveRoom_AfterServerClosed(t *testing.T) {
	dir := newDirectory()
	s, conn := openSession(t, dir, alice)
	c := lifecycle.New(dir, zerolog.Nop())

	conn.RemoteClose(protocol.CloseRoomDeleted)
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not terminate")
	}

	nav, err := c.LeaveRoom(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, lifecycle.NavigateAway, nav)
	require.Len(t, conn.Messages(), 1)
}
