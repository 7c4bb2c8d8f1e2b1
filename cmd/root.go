package cmd

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcore "github.com/sparklane/sparklane/cmd/core"
	cmdinstance "github.com/sparklane/sparklane/cmd/instance"
	cmdothers "github.com/sparklane/sparklane/cmd/others"
	cmdserve "github.com/sparklane/sparklane/cmd/serve"
	"github.com/sparklane/sparklane/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sparklane",
		Short: "Sparklane - deploy code bundles into microVMs",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmdcore.CommandContext(cmd))
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	// Bound flags win over defaults even when unset, so they carry the defaults.
	defaults := config.DefaultConfig()
	cmd.PersistentFlags().String("root-dir", defaults.RootDir, "root data directory")
	cmd.PersistentFlags().String("run-dir", defaults.RunDir, "runtime directory")
	cmd.PersistentFlags().String("log-dir", defaults.LogDir, "log directory")

	_ = viper.BindPFlag("root_dir", cmd.PersistentFlags().Lookup("root-dir"))
	_ = viper.BindPFlag("run_dir", cmd.PersistentFlags().Lookup("run-dir"))
	_ = viper.BindPFlag("log_dir", cmd.PersistentFlags().Lookup("log-dir"))

	bindEnvs(viper.GetViper())

	base := cmdcore.BaseHandler{ConfProvider: func() *config.Config { return conf }}

	cmd.AddCommand(cmdserve.Command(cmdserve.Handler{BaseHandler: base}))
	cmd.AddCommand(cmdinstance.Command(cmdinstance.Handler{BaseHandler: base}))
	for _, c := range cmdothers.Commands(cmdothers.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}

	return cmd
}()

func initConfig(ctx context.Context) error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	conf.Normalize()

	return log.SetupLog(ctx, &conf.Log, "")
}

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := newCommandContext()
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
