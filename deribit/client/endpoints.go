package client

// JSON-RPC 方法名
const (
	MethodAuth           = "public/auth"
	MethodGetInstruments = "public/get_instruments"
	MethodBuy            = "private/buy"
	MethodSell           = "private/sell"
	MethodCancel         = "private/cancel"
	MethodGetPositions   = "private/get_positions"
)

// APIPrefix HTTP 端点前缀，完整路径为 /api/v2/<method>
const APIPrefix = "/api/v2/"

// CodeUnauthorized 交易所的令牌失效错误码
const CodeUnauthorized = 13009

// PathOf 方法对应的 HTTP 路径
func PathOf(method string) string {
	return APIPrefix + method
}
