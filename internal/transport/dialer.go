package transport

import (
	"context"
	"net/http"
	"time"

	gws "github.com/gobwas/ws"

	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/ws"
)

// WSDialer dials the room server's WebSocket endpoint.
type WSDialer struct {
	WriteTimeout time.Duration
}

// Dial implements Dialer. ctx bounds the TCP dial and the upgrade handshake.
func (d WSDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := gws.Dialer{Header: gws.HandshakeHeaderHTTP(header)}

	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	c := ws.NewConn(ws.WithBufferedReader(conn, br), gws.StateClientSide, d.WriteTimeout)
	c.SetReadLimit(protocol.MaxFrameBytes)
	return c, nil
}
