package rpclient

// State состояние соединения клиента.
//
//	Idle → Connecting → Connected ⇄ Reconnecting
//	любое → Closed (конечное)
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

var stateNames = [...]string{"idle", "connecting", "connected", "reconnecting", "closed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
