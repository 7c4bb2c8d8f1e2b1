package types

import "time"

// DefaultProjectName is used when deploy metadata carries no name.
const DefaultProjectName = "Sparklane Cloud Project"

// Instance is the durable configuration record of one deploy, stored under
// instance:{id}. ID and Subdomain never change once assigned.
type Instance struct {
	ID        string `json:"id"`
	Subdomain string `json:"subdomain"`
	Name      string `json:"name"`
	Port      uint64 `json:"port"`

	// BuildCommands run at boot, in order, before RunCommand.
	BuildCommands []string `json:"build_commands"`
	RunCommand    string   `json:"run_command"`

	CreatedAt time.Time `json:"created_at"`
}

// Metadata is the decoded "metadata" part of a deploy request.
// Build and Run are left raw so validation can tell "absent" from
// "present with the wrong type".
type Metadata struct {
	Name    *string
	Project *string
	Build   []string
	// BuildSet is true when "build" was a JSON array.
	BuildSet bool
	Run      *string
}
