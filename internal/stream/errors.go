package stream

import "fmt"

// TransportOp identifies which side of the connection lifecycle failed.
type TransportOp int

const (
	// ConnectFailed means the dial or websocket handshake did not succeed.
	ConnectFailed TransportOp = iota
	// Closed means an established connection ended.
	Closed
)

func (op TransportOp) String() string {
	switch op {
	case ConnectFailed:
		return "connect failed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// TransportError reports a connection-level failure. It drives the
// connection back to Disconnected and schedules a reconnect.
type TransportError struct {
	Op  TransportOp
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stream %s: %s", e.URL, e.Op)
	}
	return fmt.Sprintf("stream %s: %s: %v", e.URL, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
