package connection

import "fmt"

// Owner tells a connection which side of the handshake it plays
type Owner uint8

const (
	OwnerClient Owner = iota
	OwnerServer
)

func (o Owner) String() string {
	switch o {
	case OwnerClient:
		return "client"
	case OwnerServer:
		return "server"
	default:
		return fmt.Sprintf("owner(%d)", uint8(o))
	}
}

// State is the position of a connection in its lifecycle.
//
// Server: Created -> AwaitingChallengeSent -> AwaitingResponse -> Streaming -> Disconnected
//
// Client: Created -> AwaitingChallenge -> RespondingChallenge -> AwaitingConfirmation -> Streaming -> Disconnected
//
// Disconnected is terminal and can be entered from every other state.
type State uint32

const (
	StateCreated State = iota
	// server: challenge is being written
	StateAwaitingChallengeSent
	// server: waiting for the scrambled response
	StateAwaitingResponse
	// client: waiting for the challenge
	StateAwaitingChallenge
	// client: response is being written
	StateRespondingChallenge
	// client: waiting for the 1 byte success flag
	StateAwaitingConfirmation
	// both: validated, frames flow in both directions
	StateStreaming
	StateDisconnected
)

var stateNames = map[State]string{
	StateCreated:               "Created",
	StateAwaitingChallengeSent: "AwaitingChallengeSent",
	StateAwaitingResponse:      "AwaitingResponse",
	StateAwaitingChallenge:     "AwaitingChallenge",
	StateRespondingChallenge:   "RespondingChallenge",
	StateAwaitingConfirmation:  "AwaitingConfirmation",
	StateStreaming:             "Streaming",
	StateDisconnected:          "Disconnected",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// handshaking reports whether s is one of the validation states
func (s State) handshaking() bool {
	return s > StateCreated && s < StateStreaming
}
