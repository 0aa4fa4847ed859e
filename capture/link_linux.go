//go:build linux
// +build linux

package capture

import (
	"net"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

// LookupLink resolves name through netlink.
func LookupLink(name string) (*Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "can't find link %q", name)
	}
	attrs := link.Attrs()
	return &Link{
		Name:  attrs.Name,
		Index: attrs.Index,
		MTU:   attrs.MTU,
		Up:    attrs.Flags&net.FlagUp != 0,
	}, nil
}
