//go:build !linux
// +build !linux

package capture

import (
	"github.com/pkg/errors"
)

// OpenRawSocket is only available on linux.
func OpenRawSocket(_ string, _ PcapOptions) (Handle, error) {
	return nil, errors.New("raw_socket engine is only available on linux")
}
