package deploy

import (
	"errors"
	"time"

	"github.com/sparklane/sparklane/initscript"
	"github.com/sparklane/sparklane/types"
)

// Assemble builds the instance record from metadata and the allocated
// subdomain, or returns a *UserError naming the first missing piece. It
// has no side effects.
func Assemble(id, subdomain string, meta *types.Metadata, port uint64, now time.Time) (*types.Instance, error) {
	if subdomain == "" {
		return nil, userErr(MsgNoIdentifier, nil)
	}
	if err := checkCommands(meta); err != nil {
		return nil, err
	}
	name := types.DefaultProjectName
	if meta.Name != nil {
		name = *meta.Name
	}
	return &types.Instance{
		ID:            id,
		Subdomain:     subdomain,
		Name:          name,
		Port:          port,
		BuildCommands: meta.Build,
		RunCommand:    *meta.Run,
		CreatedAt:     now.UTC(),
	}, nil
}

func checkCommands(meta *types.Metadata) error {
	if !meta.BuildSet {
		return userErr(MsgNoBuild, nil)
	}
	if meta.Run == nil {
		return userErr(MsgNoRun, nil)
	}
	err := initscript.Validate(meta.Build, *meta.Run)
	if err == nil {
		return nil
	}
	var cerr *initscript.CommandError
	if errors.As(err, &cerr) && cerr.Index != initscript.RunIndex {
		return userErr(MsgBadBuildCommand(cerr.Index+1), err)
	}
	return userErr(MsgBadRunCommand, err)
}
