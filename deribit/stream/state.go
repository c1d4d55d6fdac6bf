package stream

import "fmt"

// State 流会话状态。只会向前推进，Closed 为终态。
type State int32

const (
	StateUnconnected State = iota
	StateTCPConnected
	StateTLSEstablished
	StateHandshakeComplete
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateTCPConnected:
		return "tcp_connected"
	case StateTLSEstablished:
		return "tls_established"
	case StateHandshakeComplete:
		return "handshake_complete"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Open 是否已完成 WebSocket 握手且未关闭
func (s State) Open() bool {
	return s == StateHandshakeComplete || s == StateSubscribed
}
