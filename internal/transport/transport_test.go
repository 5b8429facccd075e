package transport_test

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/transport"
	"github.com/whisper/roomchat/internal/transport/transporttest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var alice = protocol.Participant{ID: 9, Name: "Alice"}

func newTransport(d transport.Dialer, timeout time.Duration) *transport.Transport {
	return transport.New(d, transport.Config{BaseURL: "ws://rooms.test/", OpenTimeout: timeout}, zerolog.Nop())
}

func waitDone(t *testing.T, ch *transport.Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not finish")
	}
}

func waitOpen(t *testing.T, rec *transporttest.Recorder) {
	t.Helper()
	select {
	case <-rec.Opened():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not open")
	}
}

func TestOpen_AnnouncesJoinBeforeOnOpen(t *testing.T) {
	conn := transporttest.NewFakeConn()
	dialer := &transporttest.FakeDialer{Conn: conn}
	rec := transporttest.NewRecorder()

	ch := newTransport(dialer, time.Second).Open("42", alice, rec)
	waitOpen(t, rec)

	require.Equal(t, transport.Open, ch.State())
	require.Equal(t, []protocol.Message{protocol.JoinNotice(alice)}, conn.Messages())
	require.Equal(t, []string{"ws://rooms.test/ws/chat/42"}, dialer.URLs())
	require.Equal(t, "9", dialer.Headers()[0].Get("X-User-ID"))

	ch.Close("done")
	waitDone(t, ch)
}

func TestSend_BeforeOpenFails(t *testing.T) {
	dialer := &transporttest.FakeDialer{Block: true}
	rec := transporttest.NewRecorder()

	ch := newTransport(dialer, time.Second).Open("42", alice, rec)
	require.Equal(t, transport.Connecting, ch.State())

	err := ch.Send(protocol.NewChat(alice, "too early"))
	require.ErrorIs(t, err, transport.ErrChannelNotOpen)

	var notOpen *transport.NotOpenError
	require.ErrorAs(t, err, &notOpen)
	require.Equal(t, transport.Connecting, notOpen.State)

	ch.Close("abandon")
	waitDone(t, ch)
}

func TestClose_WhileConnectingWritesNothing(t *testing.T) {
	dialer := &transporttest.FakeDialer{Block: true}
	rec := transporttest.NewRecorder()

	ch := newTransport(dialer, time.Second).Open("42", alice, rec)
	ch.Close("abandon")
	waitDone(t, ch)

	require.Equal(t, transport.Closed, ch.State())
	require.Equal(t, []string{"close"}, rec.Events())
	require.Equal(t, transport.CloseNormal, rec.CloseCode())
}

func TestClose_FromOpenAnnouncesLeaveOnce(t *testing.T) {
	conn := transporttest.NewFakeConn()
	rec := transporttest.NewRecorder()

	ch := newTransport(&transporttest.FakeDialer{Conn: conn}, time.Second).Open("42", alice, rec)
	waitOpen(t, rec)

	ch.Close("leaving")
	ch.Close("again")
	waitDone(t, ch)

	require.Equal(t, transport.Closed, ch.State())
	require.Equal(t, []protocol.Message{
		protocol.JoinNotice(alice),
		protocol.LeaveNotice(alice),
	}, conn.Messages())
	require.Equal(t, transport.CloseNormal, conn.CloseCode())
	require.True(t, conn.IsClosed())
	require.Equal(t, []string{"open", "close"}, rec.Events())

	err := ch.Send(protocol.NewChat(alice, "late"))
	require.ErrorIs(t, err, transport.ErrChannelNotOpen)
	require.Len(t, conn.Writes(), 2)
}

func TestSend_WritesChatFrame(t *testing.T) {
	conn := transporttest.NewFakeConn()
	rec := transporttest.NewRecorder()

	ch := newTransport(&transporttest.FakeDialer{Conn: conn}, time.Second).Open("42", alice, rec)
	waitOpen(t, rec)

	require.NoError(t, ch.Send(protocol.NewChat(alice, "hello")))
	require.Equal(t, protocol.NewChat(alice, "hello"), conn.Messages()[1])

	ch.Close("done")
	waitDone(t, ch)
}

func TestOpen_TimeoutReportsOpenError(t *testing.T) {
	rec := transporttest.NewRecorder()

	ch := newTransport(&transporttest.FakeDialer{Block: true}, 20*time.Millisecond).Open("42", alice, rec)
	waitDone(t, ch)

	require.Equal(t, transport.Errored, ch.State())
	require.Equal(t, []string{"error"}, rec.Events())

	var openErr *transport.ChannelOpenError
	require.ErrorAs(t, rec.Err(), &openErr)
	require.Equal(t, "42", openErr.RoomID)
}

func TestOpen_DialFailure(t *testing.T) {
	rec := transporttest.NewRecorder()
	boom := errors.New("connection refused")

	ch := newTransport(&transporttest.FakeDialer{Err: boom}, time.Second).Open("42", alice, rec)
	waitDone(t, ch)

	require.Equal(t, transport.Errored, ch.State())
	require.ErrorIs(t, rec.Err(), boom)

	// Close after failure is a no-op.
	ch.Close("noop")
	require.Equal(t, transport.Errored, ch.State())
}

func TestRemoteClose_ReportsCode(t *testing.T) {
	conn := transporttest.NewFakeConn()
	rec := transporttest.NewRecorder()

	ch := newTransport(&transporttest.FakeDialer{Conn: conn}, time.Second).Open("42", alice, rec)
	waitOpen(t, rec)

	conn.RemoteClose(protocol.CloseRoomDeleted)
	waitDone(t, ch)

	require.Equal(t, transport.Closed, ch.State())
	require.Equal(t, protocol.CloseRoomDeleted, rec.CloseCode())
	require.Equal(t, []string{"open", "close"}, rec.Events())
}

func TestReadFailure_Errors(t *testing.T) {
	conn := transporttest.NewFakeConn()
	rec := transporttest.NewRecorder()

	ch := newTransport(&transporttest.FakeDialer{Conn: conn}, time.Second).Open("42", alice, rec)
	waitOpen(t, rec)

	conn.Fail(errors.New("reset by peer"))
	waitDone(t, ch)

	require.Equal(t, transport.Errored, ch.State())
	require.Equal(t, []string{"open", "error"}, rec.Events())
	require.ErrorIs(t, ch.Send(protocol.NewChat(alice, "x")), transport.ErrChannelNotOpen)
}

func TestMessages_DeliveredInOrder(t *testing.T) {
	conn := transporttest.NewFakeConn()
	rec := transporttest.NewRecorder()

	ch := newTransport(&transporttest.FakeDialer{Conn: conn}, time.Second).Open("42", alice, rec)
	waitOpen(t, rec)

	for _, text := range []string{"one", "two", "three"} {
		conn.DeliverMessage(protocol.ChatMessage{Author: "Bob", Text: text})
	}
	require.Eventually(t, func() bool { return len(rec.Received()) == 3 }, time.Second, 5*time.Millisecond)

	var got []string
	for _, data := range rec.Received() {
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		got = append(got, msg.Render())
	}
	require.Equal(t, []string{"Bob: one", "Bob: two", "Bob: three"}, got)

	ch.Close("done")
	waitDone(t, ch)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "connecting", transport.Connecting.String())
	require.Equal(t, "errored", transport.Errored.String())
}
