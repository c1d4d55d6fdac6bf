package stream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/deribit/deribit/types"
)

// wsServer 基于 httptest TLS 服务器的 WebSocket 对端
type wsServer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	received chan string

	mu    sync.Mutex
	paths []string
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{
		conns:    make(chan *websocket.Conn, 8),
		received: make(chan string, 64),
	}
	upgrader := websocket.Upgrader{}
	ws.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.mu.Lock()
		ws.paths = append(ws.paths, r.URL.Path)
		ws.mu.Unlock()
		if r.URL.Path != DefaultPath {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.conns <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ws.received <- string(msg)
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) port() string {
	return strconv.Itoa(ws.srv.Listener.Addr().(*net.TCPAddr).Port)
}

func (ws *wsServer) config() *Config {
	pool := x509.NewCertPool()
	pool.AddCert(ws.srv.Certificate())
	cfg := DefaultConfig()
	cfg.TLSConfig = &tls.Config{RootCAs: pool}
	cfg.DialTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.Logger = quietLogger()
	return cfg
}

func (ws *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ws.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("服务端没有收到连接")
		return nil
	}
}

func (ws *wsServer) nextFrame(t *testing.T) string {
	t.Helper()
	select {
	case m := <-ws.received:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("服务端没有收到帧")
		return ""
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func connect(t *testing.T, ws *wsServer) *Session {
	t.Helper()
	s := NewSession(ws.config())
	require.NoError(t, s.Connect(context.Background(), "127.0.0.1", ws.port()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConnectReachesHandshakeComplete(t *testing.T) {
	ws := newWSServer(t)
	s := NewSession(ws.config())
	assert.Equal(t, StateUnconnected, s.State())

	require.NoError(t, s.Connect(context.Background(), "127.0.0.1", ws.port()))
	defer s.Close()
	assert.Equal(t, StateHandshakeComplete, s.State())
	ws.accept(t)

	err := s.Connect(context.Background(), "127.0.0.1", ws.port())
	assert.True(t, errors.Is(err, types.ErrInvalidState))
}

func TestSubscribeOrderbookFrame(t *testing.T) {
	ws := newWSServer(t)
	s := connect(t, ws)
	ws.accept(t)

	require.NoError(t, s.SubscribeOrderbook("BTC-PERPETUAL"))
	assert.Equal(t, StateSubscribed, s.State())
	assert.Equal(t,
		`{"jsonrpc":"2.0","id":9000,"method":"public/subscribe","params":{"channels":["orderbook.BTC-PERPETUAL.100ms"]}}`,
		ws.nextFrame(t))

	require.NoError(t, s.Subscribe("trades.BTC-PERPETUAL.raw"))
	assert.Contains(t, ws.nextFrame(t), `"id":9001`)
	assert.Equal(t, []string{"orderbook.BTC-PERPETUAL.100ms", "trades.BTC-PERPETUAL.raw"}, s.Channels())
}

func TestSubscribeRequiresOpenSession(t *testing.T) {
	s := NewSession(nil)
	err := s.SubscribeOrderbook("BTC-PERPETUAL")
	assert.True(t, errors.Is(err, types.ErrInvalidState))

	_, err = s.Read()
	assert.True(t, errors.Is(err, types.ErrInvalidState))
}

func TestReadFramesInOrderThenGracefulClose(t *testing.T) {
	ws := newWSServer(t)
	s := connect(t, ws)
	peer := ws.accept(t)

	for _, m := range []string{`{"a":1}`, `{"a":2}`} {
		require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(m)))
	}
	require.NoError(t, peer.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second)))

	frame, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, frame)
	frame, err = s.Read()
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, frame)

	frame, err = s.Read()
	require.NoError(t, err)
	assert.Equal(t, "", frame)
	assert.Equal(t, StateClosed, s.State())

	_, err = s.Read()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStream))
	assert.True(t, errors.Is(err, types.ErrInvalidState))
}

func TestFramesIterator(t *testing.T) {
	ws := newWSServer(t)
	s := connect(t, ws)
	peer := ws.accept(t)

	want := []string{"one", "two", "three"}
	for _, m := range want {
		require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(m)))
	}
	require.NoError(t, peer.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))

	var got []string
	for frame, err := range s.Frames(context.Background()) {
		require.NoError(t, err)
		got = append(got, frame)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, StateClosed, s.State())
}

func TestReadAbnormalTermination(t *testing.T) {
	ws := newWSServer(t)
	s := connect(t, ws)
	peer := ws.accept(t)

	require.NoError(t, peer.UnderlyingConn().Close())

	_, err := s.Read()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStream))
	assert.Equal(t, StateClosed, s.State())
}

func TestReadContextCancellation(t *testing.T) {
	ws := newWSServer(t)
	s := connect(t, ws)
	ws.accept(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.ReadContext(ctx)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("取消后读取没有返回")
	}
	assert.Equal(t, StateClosed, s.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	ws := newWSServer(t)
	s := connect(t, ws)
	ws.accept(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())

	err := s.Subscribe("orderbook.BTC-PERPETUAL.100ms")
	assert.True(t, errors.Is(err, types.ErrInvalidState))
}

func TestConnectFailures(t *testing.T) {
	ws := newWSServer(t)

	// 没有监听者的端口
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedPort := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	// 明文 HTTP 服务器，TLS 握手失败
	plain := httptest.NewServer(http.NotFoundHandler())
	defer plain.Close()
	plainPort := strconv.Itoa(plain.Listener.Addr().(*net.TCPAddr).Port)

	badPath := ws.config()
	badPath.Path = "/nope"

	untrusted := ws.config()
	untrusted.TLSConfig = &tls.Config{RootCAs: x509.NewCertPool()}

	tests := []struct {
		name string
		cfg  *Config
		port string
	}{
		{"TCP 连接失败", ws.config(), closedPort},
		{"TLS 握手失败", ws.config(), plainPort},
		{"证书不受信任", untrusted, ws.port()},
		{"WebSocket 升级失败", badPath, ws.port()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(tt.cfg)
			err := s.Connect(context.Background(), "127.0.0.1", tt.port)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrConnect), err.Error())
			assert.Equal(t, StateClosed, s.State())
		})
	}
}

func TestConnectUsesConfiguredPath(t *testing.T) {
	ws := newWSServer(t)
	connect(t, ws)
	ws.accept(t)

	ws.mu.Lock()
	defer ws.mu.Unlock()
	assert.Equal(t, []string{DefaultPath}, ws.paths)
}
