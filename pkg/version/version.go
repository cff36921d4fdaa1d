// Package version provides the client version and the realtime protocol
// revision it speaks.
package version

import "strconv"

// Current is the client version.
const Current = "1.0"

// EngineIO is the Engine.IO protocol revision sent as the EIO query
// parameter.
const EngineIO = 4

// UserAgent returns the User-Agent sent with HTTP and WebSocket requests.
func UserAgent() string {
	return "tempinbox-go/" + Current
}

// EngineIOQuery returns the EIO query parameter value.
func EngineIOQuery() string {
	return strconv.Itoa(EngineIO)
}
