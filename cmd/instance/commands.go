package instance

import "github.com/spf13/cobra"

// Actions defines instance read and removal operations.
type Actions interface {
	List(cmd *cobra.Command, args []string) error
	Inspect(cmd *cobra.Command, args []string) error
	RM(cmd *cobra.Command, args []string) error
}

// Command builds the "instance" parent command with all subcommands.
func Command(h Actions) *cobra.Command {
	instCmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"inst"},
		Short:   "Manage deployed instances",
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List instances with VM state",
		Args:    cobra.NoArgs,
		RunE:    h.List,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect ID",
		Short: "Show the instance record and VM marker (JSON)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Inspect,
	}

	rmCmd := &cobra.Command{
		Use:   "rm ID [ID...]",
		Short: "Tear down instance(s) and free their subdomains",
		Args:  cobra.MinimumNArgs(1),
		RunE:  h.RM,
	}

	instCmd.AddCommand(listCmd, inspectCmd, rmCmd)
	return instCmd
}
