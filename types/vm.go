package types

import "time"

// VMState represents the lifecycle state of an instance's microVM.
type VMState string

const (
	VMStateRunning VMState = "running" // hypervisor launched, guest booting or running
	VMStateStopped VMState = "stopped" // hypervisor exited 0: guest reached its scripted poweroff
)

// VM is the marker persisted under vm:{id}. Its presence means a
// hypervisor has been (or is being) launched for the instance.
type VM struct {
	ID    string  `json:"id"`
	State VMState `json:"state"`
	Tap   string  `json:"tap"`
	MAC   string  `json:"mac"`

	// Set once the hypervisor process exists.
	PID      int  `json:"pid,omitempty"`
	ExitCode *int `json:"exit_code,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}
