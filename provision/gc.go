package provision

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/projecteru2/core/log"

	"github.com/sparklane/sparklane/gc"
	"github.com/sparklane/sparklane/lock"
	"github.com/sparklane/sparklane/lock/flock"
	"github.com/sparklane/sparklane/registry"
	"github.com/sparklane/sparklane/utils"
)

const gcModuleName = "instances"

// orphanSnapshot pairs the registry's view of instances with what exists
// on the host.
type orphanSnapshot struct {
	records map[string]struct{}
	markers []string // ids with a vm:{id} key
	images  []string
	mounts  []string
	runDirs []string
}

// GCModule sweeps host resources and VM markers left by a crash between
// stages, which no instance record accounts for.
func (p *Provisioner) GCModule() gc.Module[orphanSnapshot] {
	return gc.Module[orphanSnapshot]{
		Name:   gcModuleName,
		Locker: flock.New(p.conf.GCLock()),
		ReadDB: func(ctx context.Context) (orphanSnapshot, error) {
			var snap orphanSnapshot
			records, err := registry.InstanceIDs(ctx, p.reg)
			if err != nil {
				return snap, fmt.Errorf("list instances: %w", err)
			}
			snap.records = records
			kvs, err := p.reg.ScanPrefix(ctx, registry.VMPrefix)
			if err != nil {
				return snap, fmt.Errorf("list vm markers: %w", err)
			}
			for _, kv := range kvs {
				snap.markers = append(snap.markers, strings.TrimPrefix(kv.Key, registry.VMPrefix))
			}
			snap.images = utils.ScanFileStems(p.conf.ImagesDir, ".img")
			snap.mounts = utils.ScanPrefixedDirs(p.conf.MountPrefix)
			snap.runDirs = utils.ScanSubdirs(p.conf.RunDir)
			return snap, nil
		},
		Resolve: func(snap orphanSnapshot, _ map[string]any) []string {
			var candidates []string
			for _, ids := range [][]string{snap.markers, snap.images, snap.mounts, snap.runDirs} {
				candidates = append(candidates, utils.FilterUnreferenced(ids, snap.records)...)
			}
			slices.Sort(candidates)
			return slices.Compact(candidates)
		},
		Collect: func(ctx context.Context, ids []string) error {
			var errs []error
			for _, id := range ids {
				if err := p.collectOrphan(ctx, id); err != nil {
					errs = append(errs, fmt.Errorf("collect %s: %w", id, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}

// RegisterGC registers the orphan sweep with the orchestrator.
func (p *Provisioner) RegisterGC(o *gc.Orchestrator) {
	gc.Register(o, p.GCModule())
}

// collectOrphan tears id down only if it is still unclaimed once its
// instance lock is held. A run that reserved the ID after the snapshot
// either holds the lock or has a record by now.
func (p *Provisioner) collectOrphan(ctx context.Context, id string) error {
	logger := log.WithFunc("provision.collectOrphan")
	err := lock.TryWith(ctx, p.locker(id), func() error {
		exists, err := p.reg.Exists(ctx, registry.InstanceKey(id))
		if err != nil {
			return err
		}
		if exists {
			logger.Infof(ctx, "skip %s: claimed since snapshot", id)
			return nil
		}
		_, err = p.teardown(ctx, id)
		return err
	})
	if errors.Is(err, lock.ErrBusy) {
		logger.Infof(ctx, "skip %s: provisioning in progress", id)
		return nil
	}
	return err
}
