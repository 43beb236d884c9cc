package session

import "time"

// State is the connection state
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Snapshot is the observable session state
type Snapshot struct {
	State      string     `json:"state"`
	Connected  bool       `json:"isConnected"`
	Connecting bool       `json:"isConnecting"`
	Status     string     `json:"status,omitempty"`
	Error      string     `json:"error,omitempty"`
	Volume     float64    `json:"volume"`
	Attempt    uint64     `json:"attempt"`
	Retries    int        `json:"retries"`
	OpenedAt   *time.Time `json:"openedAt,omitempty"`
}
