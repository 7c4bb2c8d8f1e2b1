// Package provision turns a validated instance record and its code bundle
// into a launched microVM, and tears it down again.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/projecteru2/core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sparklane/sparklane/config"
	"github.com/sparklane/sparklane/hypervisor"
	"github.com/sparklane/sparklane/initscript"
	"github.com/sparklane/sparklane/lock"
	"github.com/sparklane/sparklane/lock/flock"
	"github.com/sparklane/sparklane/metrics"
	"github.com/sparklane/sparklane/mount"
	"github.com/sparklane/sparklane/network"
	"github.com/sparklane/sparklane/registry"
	"github.com/sparklane/sparklane/types"
	"github.com/sparklane/sparklane/utils"
)

const tracerName = "github.com/sparklane/sparklane/provision"

// ErrAlreadyExists is returned when the instance ID is already provisioned
// or being provisioned.
var ErrAlreadyExists = errors.New("instance already exists")

// Provisioner runs the provisioning pipeline against injected host
// capabilities.
type Provisioner struct {
	conf    *config.Config
	reg     registry.Registry
	mounter mount.Mounter
	net     network.Network
	hyper   hypervisor.Hypervisor

	metrics *metrics.Metrics
	tracer  trace.Tracer
	locker  func(id string) lock.Locker
	now     func() time.Time
}

// Option customizes a Provisioner.
type Option func(*Provisioner)

// WithMetrics records stage latency and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provisioner) { p.metrics = m }
}

// WithLocker replaces the per-instance host lock.
func WithLocker(fn func(id string) lock.Locker) Option {
	return func(p *Provisioner) { p.locker = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) { p.now = now }
}

// New creates a Provisioner.
func New(conf *config.Config, reg registry.Registry, mounter mount.Mounter, net network.Network, hyper hypervisor.Hypervisor, opts ...Option) *Provisioner {
	p := &Provisioner{
		conf:    conf,
		reg:     reg,
		mounter: mounter,
		net:     net,
		hyper:   hyper,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	p.locker = func(id string) lock.Locker { return flock.New(conf.InstanceLock(id)) }
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision runs every stage for inst in order. The per-instance lock is
// held until the VM marker is written; from then on the marker itself
// blocks a second run. It returns once the hypervisor has exited. On any
// failure the completed stages are compensated in reverse and nothing of
// the instance is left behind, including its registry record.
func (p *Provisioner) Provision(ctx context.Context, inst *types.Instance, bundle types.Bundle) (retErr error) {
	logger := log.WithFunc("provision.Provision")
	id := inst.ID

	if err := p.conf.EnsureDirs(); err != nil {
		return fmt.Errorf("ensure dirs: %w", err)
	}
	l := p.locker(id)
	ok, err := l.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("lock instance %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is being provisioned", ErrAlreadyExists, id)
	}
	locked := true
	unlock := func() {
		if locked {
			_ = l.Unlock(ctx)
			locked = false
		}
	}
	defer unlock()

	if exists, err := p.reg.Exists(ctx, registry.VMKey(id)); err != nil {
		return fmt.Errorf("check vm marker %s: %w", id, err)
	} else if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	s := newSaga(id, p.tracer, p.metrics)
	defer func() {
		if retErr == nil {
			return
		}
		logger.Warnf(ctx, "provision %s failed, rolling back: %v", id, retErr)
		if err := s.Compensate(ctx); err != nil {
			logger.Warnf(ctx, "rollback %s incomplete: %v", id, err)
		}
	}()

	var tapCreated bool
	spec := &hypervisor.VMSpec{
		ID:        id,
		RootDrive: p.conf.InstanceImagePath(id),
		TapName:   p.conf.TapName(id),
		MAC:       hypervisor.GenerateMAC(id),
	}

	runCtx, err := s.Run(ctx,
		Stage{
			Name:   "reserve",
			Do:     func(ctx context.Context) error { return p.reserve(ctx, inst) },
			Undo:   func(ctx context.Context) error { return registry.Release(ctx, p.reg, id, inst.Subdomain) },
			Detach: true,
		},
		Stage{
			Name: "image",
			Do: func(context.Context) error {
				return utils.CopyFile(p.conf.BaseImage, spec.RootDrive, 0o600)
			},
			Undo: func(context.Context) error { return utils.RemoveIfExists(spec.RootDrive) },
		},
		Stage{
			Name: "mount",
			Do:   func(ctx context.Context) error { return p.mounter.Mount(ctx, spec.RootDrive, p.conf.MountDir(id)) },
			Undo: func(ctx context.Context) error { return p.unmount(ctx, id) },
		},
		Stage{
			Name: "code",
			Do:   func(context.Context) error { return placeCode(p.conf.AppDir(id), bundle) },
		},
		Stage{
			Name: "init",
			Do:   func(context.Context) error { return p.writeInit(inst) },
		},
		Stage{
			// The image stays mounted while the guest runs; its writes
			// must reach the file before firecracker opens it.
			Name: "sync",
			Do:   func(ctx context.Context) error { return p.mounter.Sync(ctx, p.conf.MountDir(id)) },
		},
		Stage{
			Name: "boot-config",
			Do:   func(ctx context.Context) error { return p.hyper.Configure(ctx, spec) },
			Undo: func(context.Context) error { return os.RemoveAll(p.conf.InstanceRunDir(id)) },
		},
		Stage{
			Name: "tap",
			Do: func(ctx context.Context) (err error) {
				tapCreated, err = p.net.Attach(ctx, spec.TapName)
				return err
			},
			Undo: func(ctx context.Context) error {
				if !tapCreated {
					return nil
				}
				return p.net.Detach(ctx, spec.TapName)
			},
		},
		Stage{
			Name: "vm-marker",
			Do:   func(ctx context.Context) error { return p.markRunning(ctx, spec) },
			Undo: func(ctx context.Context) error { return p.reg.Delete(ctx, registry.VMKey(id)) },
		},
	)
	if err != nil {
		return err
	}
	unlock()

	// Launch returns only after the hypervisor process has exited, so the
	// stage has nothing of its own to undo.
	if _, err := s.Run(runCtx, Stage{
		Name: "launch",
		Do: func(ctx context.Context) error {
			return p.hyper.Launch(ctx, id, func(pid int) { p.recordPID(ctx, id, pid) })
		},
	}); err != nil {
		return err
	}

	if err := p.markStopped(runCtx, id); err != nil {
		logger.Warnf(runCtx, "mark %s stopped: %v", id, err)
	}
	logger.Infof(runCtx, "instance %s (%s) ran to poweroff", id, inst.Subdomain)
	return nil
}

func (p *Provisioner) reserve(ctx context.Context, inst *types.Instance) error {
	err := registry.Reserve(ctx, p.reg, inst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrSubdomainTaken):
		return err
	case errors.Is(err, registry.ErrExists):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	default:
		return fmt.Errorf("reserve %s: %w", inst.ID, err)
	}
}

func (p *Provisioner) unmount(ctx context.Context, id string) error {
	dir := p.conf.MountDir(id)
	if err := p.mounter.Unmount(ctx, dir); err != nil {
		return err
	}
	// Non-recursive: a dir that still holds files is still a mount.
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove mount dir %s: %w", dir, err)
	}
	return nil
}

// placeCode writes every bundle file under appDir. Paths are resolved with
// securejoin so neither ".." nor a symlink in the image can lead outside it.
func placeCode(appDir string, bundle types.Bundle) error {
	if err := os.MkdirAll(appDir, 0o755); err != nil { //nolint:gosec // guest-visible tree
		return fmt.Errorf("create app dir %s: %w", appDir, err)
	}
	for _, f := range bundle {
		dst, err := securejoin.SecureJoin(appDir, f.Path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", f.Path, err)
		}
		if dst != filepath.Join(appDir, f.Path) {
			return fmt.Errorf("path %q escapes the app directory", f.Path)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("create dir for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(dst, f.Content, 0o644); err != nil { //nolint:gosec
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	return nil
}

// writeInit renders the boot script next to the app dir and points the
// guest's /init at it.
func (p *Provisioner) writeInit(inst *types.Instance) error {
	script, err := initscript.Render(&initscript.Config{
		AppDir:        initscript.GuestAppDir,
		BuildCommands: inst.BuildCommands,
		RunCommand:    inst.RunCommand,
	})
	if err != nil {
		return err
	}
	scriptPath := p.conf.InitScriptPath(inst.ID)
	if err := utils.AtomicWriteFile(scriptPath, script, 0o755); err != nil { //nolint:gosec // must be executable
		return fmt.Errorf("write init script: %w", err)
	}
	link := p.conf.InitLinkPath(inst.ID)
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("remove stale %s: %w", link, err)
		}
	}
	if err := os.Symlink(filepath.Base(scriptPath), link); err != nil {
		return fmt.Errorf("link %s: %w", link, err)
	}
	return nil
}

func (p *Provisioner) markRunning(ctx context.Context, spec *hypervisor.VMSpec) error {
	now := p.now()
	return registry.PutVM(ctx, p.reg, &types.VM{
		ID:        spec.ID,
		State:     types.VMStateRunning,
		Tap:       spec.TapName,
		MAC:       spec.MAC,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (p *Provisioner) recordPID(ctx context.Context, id string, pid int) {
	if err := registry.UpdateVM(ctx, p.reg, id, func(vm *types.VM) {
		vm.PID = pid
		vm.UpdatedAt = p.now()
	}); err != nil {
		log.WithFunc("provision.recordPID").Warnf(ctx, "record pid %d for %s: %v", pid, id, err)
	}
}

func (p *Provisioner) markStopped(ctx context.Context, id string) error {
	return registry.UpdateVM(ctx, p.reg, id, func(vm *types.VM) {
		now := p.now()
		code := 0
		vm.State = types.VMStateStopped
		vm.PID = 0
		vm.ExitCode = &code
		vm.UpdatedAt = now
		vm.StoppedAt = &now
	})
}
