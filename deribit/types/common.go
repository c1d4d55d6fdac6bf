package types

import (
	"fmt"
	"strings"
	"time"
)

// Direction 订单方向
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid 是否为交易所支持的方向
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Credentials 交易账户凭证（加载后不可变，由认证会话独占）
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Validate 检查凭证是否完整
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return NewError(ErrInvalidArgument, "credentials", fmt.Errorf("client_id 未配置"))
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return NewError(ErrInvalidArgument, "credentials", fmt.Errorf("client_secret 未配置"))
	}
	return nil
}

// String 不输出 secret，避免凭证进入日志
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{ClientID:%s ClientSecret:***}", c.ClientID)
}

// TokenState 访问令牌状态
type TokenState int

const (
	TokenNone TokenState = iota
	TokenValid
	TokenExpired
)

func (s TokenState) String() string {
	switch s {
	case TokenNone:
		return "none"
	case TokenValid:
		return "valid"
	case TokenExpired:
		return "expired"
	default:
		return fmt.Sprintf("TokenState(%d)", int(s))
	}
}

// AccessToken 认证成功后交易所签发的访问令牌
type AccessToken struct {
	Value        string
	RefreshToken string
	Scope        string
	ExpiresIn    time.Duration // 0 表示交易所未给出有效期
	ObtainedAt   time.Time
}

// ExpiresAt 令牌过期时间；ExpiresIn 为 0 时返回零值
func (t AccessToken) ExpiresAt() time.Time {
	if t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return t.ObtainedAt.Add(t.ExpiresIn)
}

// StateAt 计算 now 时刻的令牌状态，margin 为提前视为过期的安全余量
func (t AccessToken) StateAt(now time.Time, margin time.Duration) TokenState {
	if t.Value == "" {
		return TokenNone
	}
	exp := t.ExpiresAt()
	if exp.IsZero() {
		return TokenValid
	}
	if !now.Before(exp.Add(-margin)) {
		return TokenExpired
	}
	return TokenValid
}

// OrderbookChannel 订单簿订阅频道名：orderbook.<instrument>.<interval>
func OrderbookChannel(instrument, interval string) string {
	return "orderbook." + instrument + "." + interval
}
