package deploy

import (
	"errors"
	"fmt"

	"github.com/sparklane/sparklane/archive"
	"github.com/sparklane/sparklane/hypervisor"
	"github.com/sparklane/sparklane/provision"
	"github.com/sparklane/sparklane/registry"
)

// Messages shown to the caller.
const (
	MsgBadArchive      = "Couldn't process your code files, please try again later."
	MsgNoIdentifier    = "Your project identifier was taken and we couldn't generate a new one, please try again later."
	MsgNoBuild         = "No build command in config."
	MsgNoRun           = "No run command in config."
	MsgBadMetadata     = "Invalid metadata, expected a JSON object."
	MsgBadRunCommand   = "Run command is not a valid shell command."
	MsgUpload          = "Error with file upload. Please try again later"
	MsgAlreadyExists   = "This instance already exists."
	MsgRegistry        = "We couldn't save your project right now, please try again later."
	MsgProvisionFailed = "We couldn't set up your project, please try again later."
)

// MsgBadBuildCommand names the offending build command, counting from 1.
func MsgBadBuildCommand(n int) string {
	return fmt.Sprintf("Build command %d is not a valid shell command.", n)
}

// UserError is a rejection caused by the request itself. Msg is safe to
// return verbatim; Err, if set, is the underlying cause for logs.
type UserError struct {
	Msg string
	Err error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *UserError) Unwrap() error { return e.Err }

func userErr(msg string, cause error) error { return &UserError{Msg: msg, Err: cause} }

// IsUserError reports whether err was caused by the request.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// Message maps any deploy error to the text shown to the caller. Host
// paths and internal detail never leave this function.
func Message(err error) string {
	var ue *UserError
	switch {
	case errors.As(err, &ue):
		return ue.Msg
	case errors.Is(err, archive.ErrInvalidArchive), errors.Is(err, archive.ErrTooLarge):
		return MsgBadArchive
	case errors.Is(err, registry.ErrSubdomainTaken):
		return MsgNoIdentifier
	case errors.Is(err, provision.ErrAlreadyExists):
		return MsgAlreadyExists
	case errors.Is(err, hypervisor.ErrLaunchFailed):
		return hypervisor.ErrLaunchFailed.Error()
	case isRegistryError(err):
		return MsgRegistry
	default:
		return MsgProvisionFailed
	}
}

func isRegistryError(err error) bool {
	return errors.Is(err, registry.ErrConflict) ||
		errors.Is(err, registry.ErrInvalidKey) ||
		errors.Is(err, registry.ErrNotFound) ||
		errors.Is(err, registry.ErrExists)
}
