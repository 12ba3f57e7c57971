package bot

// State is the protocol session state. Transitions are driven by control
// lines from the gateway (capability ack, welcome numeric, join confirmation)
// or by failures.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateNegotiating
	StateAuthenticating
	StateJoining
	StateJoined
	StateClosing
)

var stateNames = map[State]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateNegotiating:    "negotiating",
	StateAuthenticating: "authenticating",
	StateJoining:        "joining",
	StateJoined:         "joined",
	StateClosing:        "closing",
}

func (s State) String() string { return stateNames[s] }
