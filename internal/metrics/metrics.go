package metrics

import "expvar"

var (
	CommandsSent     = expvar.NewInt("commands_sent")
	CommandErrors    = expvar.NewInt("command_errors")
	AuthFlights      = expvar.NewInt("auth_flights")
	StreamConnects   = expvar.NewInt("stream_connects")
	StreamFrames     = expvar.NewInt("stream_frames")
	StreamErrors     = expvar.NewInt("stream_errors")
	StreamReconnects = expvar.NewInt("stream_reconnects")
)
