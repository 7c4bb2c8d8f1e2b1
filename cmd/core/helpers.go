package core

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sparklane/sparklane/config"
	"github.com/sparklane/sparklane/events"
	"github.com/sparklane/sparklane/hypervisor/firecracker"
	"github.com/sparklane/sparklane/metrics"
	"github.com/sparklane/sparklane/mount/loop"
	"github.com/sparklane/sparklane/network/tap"
	"github.com/sparklane/sparklane/provision"
	"github.com/sparklane/sparklane/registry"
	"github.com/sparklane/sparklane/registry/badger"
	"github.com/sparklane/sparklane/types"
	"github.com/sparklane/sparklane/utils"
)

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return CommandContext(cmd), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return conf, nil
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// OpenRegistry opens the on-disk registry. Badger holds a directory lock,
// so only one process can have it open at a time.
func OpenRegistry(conf *config.Config) (registry.Registry, error) {
	if err := utils.EnsureDirs(conf.RegistryDir()); err != nil {
		return nil, err
	}
	reg, err := badger.Open(conf.RegistryDir())
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	return reg, nil
}

// InitProvisioner wires the production host capabilities: loop mounts,
// tap devices and Firecracker.
func InitProvisioner(conf *config.Config, reg registry.Registry, m *metrics.Metrics) *provision.Provisioner {
	return provision.New(conf, reg, loop.New(), tap.New(), firecracker.New(conf), provision.WithMetrics(m))
}

// InitPublisher connects to NATS when configured, otherwise events are dropped.
func InitPublisher(ctx context.Context, conf *config.Config) (events.Publisher, error) {
	if conf.NATSURL == "" {
		return events.Nop{}, nil
	}
	pub, err := events.NewNATS(ctx, conf.NATSURL, conf.NATSSubject)
	if err != nil {
		return nil, fmt.Errorf("init events: %w", err)
	}
	return pub, nil
}

// ReconcileState checks actual process liveness to detect stale "running" markers.
func ReconcileState(vm *types.VM) string {
	if vm == nil {
		return "-"
	}
	if vm.State == types.VMStateRunning && !utils.IsProcessAlive(vm.PID) {
		return "stopped (stale)"
	}
	return string(vm.State)
}
