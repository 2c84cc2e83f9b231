package websocket

// ConnectionState is the lifecycle state of a Socket
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateErrored
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	default:
		return "disconnected"
	}
}

// EventKind identifies a socket lifecycle event
type EventKind int

const (
	// EventOpen fires once per successful connection
	EventOpen EventKind = iota
	// EventMessage carries one raw server frame
	EventMessage
	// EventError fires on transport failure; no more frames follow for that connection
	EventError
	// EventClose fires on a graceful server-initiated close
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return "close"
	}
}

// Event is one item of the socket's ordered lifecycle stream
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}
