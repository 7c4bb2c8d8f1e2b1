// Package tap implements network.Network with host tap devices over netlink.
package tap

import (
	"context"
	"errors"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/sparklane/sparklane/network"
)

const typ = "tap"

// compile-time interface check.
var _ network.Network = (*Tap)(nil)

// Tap creates tap devices in the host network namespace.
type Tap struct{}

// New returns a Tap.
func New() *Tap { return &Tap{} }

func (t *Tap) Type() string { return typ }

// Attach is the equivalent of `ip tuntap add mode tap <name>` followed by
// `ip link set <name> up`.
func (t *Tap) Attach(ctx context.Context, name string) (bool, error) {
	logger := log.WithFunc("tap.Attach")
	created := true
	link := &netlink.Tuntap{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		Mode:      netlink.TUNTAP_MODE_TAP,
		Flags:     netlink.TUNTAP_NO_PI | netlink.TUNTAP_VNET_HDR,
	}
	err := netlink.LinkAdd(link)
	// The device is persistent; the queue fds opened while creating it are
	// not needed once it exists.
	for _, f := range link.Fds {
		_ = f.Close()
	}
	if err != nil {
		if !errors.Is(err, unix.EEXIST) {
			return false, fmt.Errorf("add tap %s: %w", name, err)
		}
		logger.Warnf(ctx, "tap %s already exists, reusing it", name)
		created = false
	}

	l, err := netlink.LinkByName(name)
	if err != nil {
		return created, fmt.Errorf("find tap %s: %w", name, err)
	}
	if err := netlink.LinkSetUp(l); err != nil {
		return created, fmt.Errorf("set tap %s up: %w", name, err)
	}
	return created, nil
}

// Detach deletes the tap device.
func (t *Tap) Detach(ctx context.Context, name string) error {
	l, err := netlink.LinkByName(name)
	if err != nil {
		var nf netlink.LinkNotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return fmt.Errorf("find tap %s: %w", name, err)
	}
	if err := netlink.LinkDel(l); err != nil {
		return fmt.Errorf("delete tap %s: %w", name, err)
	}
	log.WithFunc("tap.Detach").Infof(ctx, "deleted tap %s", name)
	return nil
}
