package publisher

// State is the publisher's connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateExchangeDeclared
	StatePublishing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateExchangeDeclared:
		return "exchange_declared"
	case StatePublishing:
		return "publishing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
