package serve

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	cmdcore "github.com/sparklane/sparklane/cmd/core"
	"github.com/sparklane/sparklane/deploy"
	"github.com/sparklane/sparklane/gc"
	"github.com/sparklane/sparklane/metrics"
	"github.com/sparklane/sparklane/naming"
	"github.com/sparklane/sparklane/server"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Serve(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.serve")

	if err := conf.EnsureDirs(); err != nil {
		return fmt.Errorf("ensure dirs: %w", err)
	}
	uploadLimit, err := conf.UploadLimit()
	if err != nil {
		return err
	}
	bundleLimit, err := conf.BundleLimit()
	if err != nil {
		return err
	}

	shutdownTracing, err := metrics.SetupTracing(conf.Trace)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			logger.Warnf(ctx, "flush traces: %v", err)
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	reg, err := cmdcore.OpenRegistry(conf)
	if err != nil {
		return err
	}
	defer reg.Close() //nolint:errcheck

	pub, err := cmdcore.InitPublisher(ctx, conf)
	if err != nil {
		return err
	}
	defer pub.Close()

	prov := cmdcore.InitProvisioner(conf, reg, m)
	if sweep, _ := cmd.Flags().GetBool("gc"); sweep {
		o := gc.New()
		prov.RegisterGC(o)
		if err := o.Run(ctx); err != nil {
			logger.Warnf(ctx, "startup gc: %v", err)
		}
	}

	svc := deploy.NewService(
		naming.New(reg, naming.WithAttempts(conf.AllocatorAttempts)),
		prov,
		deploy.WithPublisher(pub),
		deploy.WithMetrics(m),
		deploy.WithPoolSize(conf.PoolSize),
		deploy.WithBundleLimit(bundleLimit),
		deploy.WithPort(conf.AppPort),
	)
	runErr := server.New(svc, m, uploadLimit).Run(ctx, conf.ListenAddr)

	// The registry and publisher close on return; running pipelines may
	// still need both to record a launch or roll one back.
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), conf.DrainTimeout())
	defer cancel()
	logger.Infof(ctx, "waiting up to %s for in-flight provisions", conf.DrainTimeout())
	if err := svc.Drain(drainCtx); err != nil {
		logger.Warnf(ctx, "closing with provisions still running: %v", err)
	}
	return runErr
}
