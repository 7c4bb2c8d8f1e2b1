package instance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/sparklane/sparklane/cmd/core"
	"github.com/sparklane/sparklane/events"
	"github.com/sparklane/sparklane/registry"
	"github.com/sparklane/sparklane/types"
)

type Handler struct {
	cmdcore.BaseHandler
}

// Detail is what inspect prints: the record and, once launched, its VM marker.
type Detail struct {
	*types.Instance
	VM *types.VM `json:"vm,omitempty"`
}

// withRegistry opens the registry for the duration of fn.
func (h Handler) withRegistry(cmd *cobra.Command, fn func(context.Context, registry.Registry) error) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	reg, err := cmdcore.OpenRegistry(conf)
	if err != nil {
		return err
	}
	defer reg.Close() //nolint:errcheck
	return fn(ctx, reg)
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	return h.withRegistry(cmd, func(ctx context.Context, reg registry.Registry) error {
		insts, err := registry.ListInstances(ctx, reg)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		if len(insts) == 0 {
			fmt.Println("No instances found.")
			return nil
		}

		sort.Slice(insts, func(i, j int) bool { return insts[i].CreatedAt.Before(insts[j].CreatedAt) })

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tSUBDOMAIN\tNAME\tSTATE\tPORT\tCREATED")
		for _, inst := range insts {
			vm, err := registry.GetVM(ctx, reg, inst.ID)
			if err != nil && !errors.Is(err, registry.ErrNotFound) {
				return fmt.Errorf("load vm %s: %w", inst.ID, err)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s ago\n",
				inst.ID,
				inst.Subdomain,
				inst.Name,
				cmdcore.ReconcileState(vm),
				inst.Port,
				units.HumanDuration(time.Since(inst.CreatedAt)),
			)
		}
		w.Flush() //nolint:errcheck,gosec
		return nil
	})
}

func (h Handler) Inspect(cmd *cobra.Command, args []string) error {
	return h.withRegistry(cmd, func(ctx context.Context, reg registry.Registry) error {
		inst, err := registry.GetInstance(ctx, reg, args[0])
		if err != nil {
			return fmt.Errorf("inspect %s: %w", args[0], err)
		}
		d := Detail{Instance: inst}
		switch vm, err := registry.GetVM(ctx, reg, inst.ID); {
		case err == nil:
			d.VM = vm
		case !errors.Is(err, registry.ErrNotFound):
			return fmt.Errorf("inspect %s: %w", args[0], err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	})
}

// RM tears down every named instance, continuing past failures so one
// stuck instance does not block the rest.
func (h Handler) RM(cmd *cobra.Command, args []string) error {
	return h.withRegistry(cmd, func(ctx context.Context, reg registry.Registry) error {
		conf, _ := h.Conf()
		logger := log.WithFunc("cmd.rm")

		pub, err := cmdcore.InitPublisher(ctx, conf)
		if err != nil {
			return err
		}
		defer pub.Close()

		prov := cmdcore.InitProvisioner(conf, reg, nil)
		var errs []error
		for _, id := range args {
			subdomain, err := prov.Teardown(ctx, id)
			if err != nil {
				errs = append(errs, fmt.Errorf("rm %s: %w", id, err))
				continue
			}
			logger.Infof(ctx, "removed instance: %s", id)
			events.Emit(ctx, pub, events.Event{Event: events.Removed, ID: id, Subdomain: subdomain})
		}
		return errors.Join(errs...)
	})
}
