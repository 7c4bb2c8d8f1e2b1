package others

import (
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/sparklane/sparklane/cmd/core"
	"github.com/sparklane/sparklane/gc"
	"github.com/sparklane/sparklane/version"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) GC(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	if err := conf.EnsureDirs(); err != nil {
		return fmt.Errorf("ensure dirs: %w", err)
	}
	reg, err := cmdcore.OpenRegistry(conf)
	if err != nil {
		return err
	}
	defer reg.Close() //nolint:errcheck

	o := gc.New()
	cmdcore.InitProvisioner(conf, reg, nil).RegisterGC(o)
	if err := o.Run(ctx); err != nil {
		return err
	}
	log.WithFunc("cmd.gc").Infof(ctx, "GC completed")
	return nil
}

func (h Handler) Version(_ *cobra.Command, _ []string) error {
	fmt.Print(version.String())
	return nil
}
