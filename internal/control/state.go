package control

type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Blocked
)

var stateNames = []string{"disconnected", "connecting", "open", "blocked"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
