package messaging

import (
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// exerciseBroker runs the same contract against any Broker.
func exerciseBroker(t *testing.T, b Broker) {
	t.Helper()

	var (
		mu      sync.Mutex
		frames  []string
		deleted []string
	)
	snapshot := func() ([]string, []string) {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), frames...), append([]string(nil), deleted...)
	}

	sub, err := b.SubscribeRoom("test_42", func(data []byte) {
		mu.Lock()
		frames = append(frames, string(data))
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = b.SubscribeRoomDeleted(func(roomID string) {
		mu.Lock()
		deleted = append(deleted, roomID)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, b.PublishRoom("test_42", []byte("one")))
	require.NoError(t, b.PublishRoom("test_42", []byte("two")))
	require.NoError(t, b.PublishRoom("test_other", []byte("elsewhere")))
	require.NoError(t, b.PublishRoomDeleted("test_42"))

	require.Eventually(t, func() bool {
		f, d := snapshot()
		return len(f) == 2 && len(d) == 1
	}, 2*time.Second, 5*time.Millisecond)

	f, d := snapshot()
	require.Equal(t, []string{"one", "two"}, f)
	require.Equal(t, []string{"test_42"}, d)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, b.PublishRoom("test_42", []byte("three")))
	time.Sleep(20 * time.Millisecond)
	f, _ = snapshot()
	require.Len(t, f, 2)
}

func TestLocalBroker(t *testing.T) {
	b := NewLocalBroker()
	defer b.Close()
	exerciseBroker(t, b)
}

func TestNATSBroker(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	b, err := NewNATSBroker(cfg, zerolog.Nop())
	if err != nil {
		t.Skipf("nats not available at %s: %v", nats.DefaultURL, err)
	}
	defer b.Close()
	exerciseBroker(t, b)
}

func TestRoomEventRoundTrip(t *testing.T) {
	data, err := MarshalRoomEvent("conn-1", true, []byte(`{"message":"hi","username":"Alice"}`))
	require.NoError(t, err)

	ev, err := UnmarshalRoomEvent(data)
	require.NoError(t, err)
	require.Equal(t, "conn-1", ev.From)
	require.True(t, ev.Echo)
	require.JSONEq(t, `{"message":"hi","username":"Alice"}`, string(ev.Frame))

	_, err = UnmarshalRoomEvent([]byte(`nope`))
	require.Error(t, err)
}
