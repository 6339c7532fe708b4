package device

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ConnectionState describes the session's view of the serial link.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

var stateNames = map[ConnectionState]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
}

func (s ConnectionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ConnectionState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for state, n := range stateNames {
		if n == name {
			*s = state
			return nil
		}
	}
	return errors.Errorf("unknown connection state %q", name)
}

// Op identifies a logical request issued to the device.
type Op int

const (
	OpNone Op = iota
	OpEnroll
	OpVerify
	OpDelete
)

var opNames = map[Op]string{
	OpNone:   "none",
	OpEnroll: "enroll",
	OpVerify: "verify",
	OpDelete: "delete",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "unknown"
}

func (o Op) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Op) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for op, n := range opNames {
		if n == name {
			*o = op
			return nil
		}
	}
	return errors.Errorf("unknown op %q", name)
}

// Result is the outcome delivered to the caller of an operation.
type Result struct {
	Op         Op
	TemplateID int
	Err        error
}

// Snapshot is a point-in-time copy of the session's observable state.
type Snapshot struct {
	State             ConnectionState `json:"state"`
	Busy              bool            `json:"busy"`
	PendingOp         Op              `json:"pendingOp"`
	LastStatus        string          `json:"lastStatus,omitempty"`
	LastCount         int             `json:"lastCount"`
	LastError         string          `json:"lastError,omitempty"`
	ConnectedAt       *time.Time      `json:"connectedAt,omitempty"`
	ReconnectAttempts int             `json:"reconnectAttempts"`
	// Settling is set while commands wait out a timed-out operation.
	Settling bool `json:"settling,omitempty"`
}
