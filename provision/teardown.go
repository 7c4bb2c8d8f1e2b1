package provision

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/projecteru2/core/log"

	"github.com/sparklane/sparklane/lock"
	"github.com/sparklane/sparklane/registry"
	"github.com/sparklane/sparklane/utils"
)

// Teardown undoes Provision on the host: stop the hypervisor, delete the
// tap, unmount and remove the mount dir, delete the image and run dir, then
// delete vm:{id} and instance:{id}. The subdomain key is kept as a tombstone
// so the name is never reassigned. Every
// step runs even if an earlier one failed; the failures are joined. The
// registry keys are kept when a host step failed so the instance stays
// visible for a retry.
//
// It returns the subdomain the instance held, if known.
func (p *Provisioner) Teardown(ctx context.Context, id string) (subdomain string, err error) {
	if err := p.conf.EnsureDirs(); err != nil {
		return "", fmt.Errorf("ensure dirs: %w", err)
	}
	err = lock.TryWith(ctx, p.locker(id), func() error {
		subdomain, err = p.teardown(ctx, id)
		return err
	})
	if errors.Is(err, lock.ErrBusy) {
		return "", fmt.Errorf("instance %s is being provisioned: %w", id, err)
	}
	return subdomain, err
}

func (p *Provisioner) teardown(ctx context.Context, id string) (string, error) {
	logger := log.WithFunc("provision.Teardown")

	var subdomain string
	inst, err := registry.GetInstance(ctx, p.reg, id)
	switch {
	case err == nil:
		subdomain = inst.Subdomain
	case errors.Is(err, registry.ErrNotFound):
		logger.Warnf(ctx, "instance %s has no record, cleaning host resources only", id)
	default:
		return "", fmt.Errorf("load instance %s: %w", id, err)
	}

	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			logger.Warnf(ctx, "teardown %s: %s: %v", id, name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("stop hypervisor", func() error { return p.hyper.Stop(ctx, id) })
	step("delete tap", func() error { return p.net.Detach(ctx, p.conf.TapName(id)) })
	step("unmount", func() error { return p.unmount(ctx, id) })
	step("remove image", func() error { return utils.RemoveIfExists(p.conf.InstanceImagePath(id)) })
	step("remove run dir", func() error { return os.RemoveAll(p.conf.InstanceRunDir(id)) })
	if len(errs) > 0 {
		return subdomain, errors.Join(errs...)
	}

	if err := registry.Purge(ctx, p.reg, id); err != nil {
		return subdomain, fmt.Errorf("purge registry keys of %s: %w", id, err)
	}
	logger.Infof(ctx, "instance %s (%s) torn down", id, subdomain)
	return subdomain, nil
}
