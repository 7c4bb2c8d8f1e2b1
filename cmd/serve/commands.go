package serve

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Actions defines the server entry point.
type Actions interface {
	Serve(cmd *cobra.Command, args []string) error
}

// Command builds the "serve" command.
func Command(h Actions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP deploy frontend",
		Args:  cobra.NoArgs,
		RunE:  h.Serve,
	}
	cmd.Flags().String("listen", "", "listen address (default from config)")
	cmd.Flags().Bool("trace", false, "export pipeline spans to stdout")
	cmd.Flags().Bool("gc", true, "sweep orphaned instance resources before serving")

	_ = viper.BindPFlag("listen_addr", cmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("trace", cmd.Flags().Lookup("trace"))
	return cmd
}
