package control

import (
	"fmt"

	"github.com/kdsbridge/print-bridge/pkg/config"
)

// Message types exchanged on the control channel.
const (
	TypeHello        = "hello"
	TypeConfigUpdate = "config_update"
	TypeUnauthorized = "unauthorized"
)

// ReasonNotRegistered means the backend no longer knows the device ID.
const ReasonNotRegistered = "not_registered"

type Message struct {
	Type     string           `json:"type"`
	DeviceID string           `json:"deviceId"`
	IP       string           `json:"ip"`
	Printers []config.Printer `json:"printers,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

// Rejection is an authorization decision pushed by the backend.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected by backend: %s", r.Reason)
}
