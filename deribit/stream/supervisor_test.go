package stream

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/deribit/deribit/types"
)

func TestSupervisorResubscribesAfterClose(t *testing.T) {
	ws := newWSServer(t)

	// 每条连接：收到订阅后推一帧，然后正常关闭
	go func() {
		n := 0
		for conn := range ws.conns {
			n++
			go func(conn *websocket.Conn, n int) {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("frame-"+strconv.Itoa(n)))
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			}(conn, n)
		}
	}()

	cfg := &SupervisorConfig{
		Session:    ws.config(),
		Channels:   []string{"orderbook.BTC-PERPETUAL.100ms"},
		MinBackoff: 5 * time.Millisecond,
		MaxBackoff: 10 * time.Millisecond,
		Logger:     quietLogger(),
	}
	sv := NewSupervisor("127.0.0.1", ws.port(), cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var frames []string
	err := sv.Run(ctx, func(frame string) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, frame)
		if len(frames) == 3 {
			cancel()
		}
	})
	assert.True(t, errors.Is(err, context.Canceled))

	mu.Lock()
	assert.Equal(t, []string{"frame-1", "frame-2", "frame-3"}, frames)
	mu.Unlock()

	// 每次重连都用 9000 重新订阅同一频道
	for i := 0; i < 3; i++ {
		assert.Equal(t,
			`{"jsonrpc":"2.0","id":9000,"method":"public/subscribe","params":{"channels":["orderbook.BTC-PERPETUAL.100ms"]}}`,
			ws.nextFrame(t))
	}
}

func TestSupervisorGivesUpAfterMaxAttempts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	cfg := &SupervisorConfig{
		Session:     &Config{DialTimeout: time.Second, Logger: quietLogger()},
		MinBackoff:  time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
		MaxAttempts: 3,
		Logger:      quietLogger(),
	}
	err = NewSupervisor("127.0.0.1", port, cfg).Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConnect))
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	ws := newWSServer(t)
	cfg := &SupervisorConfig{Session: ws.config(), Logger: quietLogger()}
	sv := NewSupervisor("127.0.0.1", ws.port(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sv.Run(ctx, nil) }()

	ws.accept(t)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("取消后 Run 没有返回")
	}
}
