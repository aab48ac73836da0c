package connection

import "time"

// State is the connection lifecycle state.
type State int

const (
	// StateDisconnected means no connection exists and none is being
	// attempted.
	StateDisconnected State = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateConnected means the stream is established and being consumed.
	StateConnected

	// StateReconnecting means the stream dropped and a backoff timer is
	// pending before the next attempt.
	StateReconnecting

	// StateError means reconnection attempts are exhausted or a
	// non-retryable failure occurred. The manager stays here until
	// Disconnect or Reconnect is called.
	StateError
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateError:        "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Snapshot is a point-in-time view of the manager's state.
type Snapshot struct {
	State             State     `json:"state"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	LastEventAt       time.Time `json:"lastEventAt"`
	LastError         error     `json:"-"`
}
