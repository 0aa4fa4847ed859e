//go:build !linux
// +build !linux

package capture

import (
	"net"

	"github.com/pkg/errors"
)

// LookupLink resolves name through the net package.
func LookupLink(name string) (*Link, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "can't find link %q", name)
	}
	return &Link{
		Name:  ifi.Name,
		Index: ifi.Index,
		MTU:   ifi.MTU,
		Up:    ifi.Flags&net.FlagUp != 0,
	}, nil
}
