package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if err := conn.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialConn(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	return conn
}

func TestConnection_SendReadRoundTrip(t *testing.T) {
	srv := wsEchoServer(t)
	conn := NewConnection(dialConn(t, srv))
	t.Cleanup(func() { _ = conn.Close() })

	err := conn.Send(PingMessage{Op: OpPing})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ping"`)
}

func TestConnection_CloseIdempotent(t *testing.T) {
	srv := wsEchoServer(t)
	conn := NewConnection(dialConn(t, srv))

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

func TestConnection_SendAfterCloseErrors(t *testing.T) {
	srv := wsEchoServer(t)
	conn := NewConnection(dialConn(t, srv))
	_ = conn.Close()

	err := conn.Send(PingMessage{Op: OpPing})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestConnection_ReadAfterCloseErrors(t *testing.T) {
	srv := wsEchoServer(t)
	conn := NewConnection(dialConn(t, srv))
	_ = conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := conn.Read(ctx)
	assert.Error(t, err)
}
