package capture

import (
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

const (
	// DefaultSnapLen is large enough for any frame a link can carry
	DefaultSnapLen = 65535
	// DefaultTimeout bounds every read so the caller can look at its context
	DefaultTimeout = 10 * time.Millisecond
)

// ErrTimeout is returned by engines that have no error of their own for
// a read that expired without a frame.
var ErrTimeout = errors.New("capture read timeout")

// Handle is an opened capture/injection endpoint on one interface.
type Handle interface {
	// ReadPacketData blocks up to the configured timeout for the next frame.
	// An expired read returns an error for which IsTimeout reports true.
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	// WritePacketData injects a frame verbatim.
	WritePacketData(data []byte) error
	// SetInboundOnly restricts capture to frames arriving on the interface.
	SetInboundOnly() error
	Stats() (*Stats, error)
	Close()
}

// Stats are cumulative since the handle was opened.
type Stats struct {
	PacketsReceived  int
	PacketsDropped   int
	PacketsIfDropped int
}

// PcapOptions options that can be set on a capture handle,
// these options take effect on inactive handles
type PcapOptions struct {
	SnapLen     int
	Promiscuous bool
	Timeout     time.Duration
	BufferSize  int64
	Engine      EngineType
	BPFFilter   string
}

// OpenFunc opens the named interface. The returned handle is not yet
// restricted to inbound traffic.
type OpenFunc func(name string, opts PcapOptions) (Handle, error)

// EngineType ...
type EngineType uint8

// Available engines for capturing and injecting frames
const (
	EnginePcap EngineType = 1 << iota
	EngineRawSocket
)

// Set is here so that EngineType can implement flag.Var
func (eng *EngineType) Set(v string) error {
	switch v {
	case "", "libpcap":
		*eng = EnginePcap
	case "raw_socket":
		*eng = EngineRawSocket
	default:
		return fmt.Errorf("invalid engine %s", v)
	}
	return nil
}

func (eng *EngineType) String() (e string) {
	switch *eng {
	case EnginePcap:
		e = "libpcap"
	case EngineRawSocket:
		e = "raw_socket"
	default:
		e = ""
	}
	return e
}

// Type is here so that EngineType can be used as a pflag.Value
func (eng *EngineType) Type() string {
	return "engine"
}

// Open opens name with the engine selected in opts.
func Open(name string, opts PcapOptions) (Handle, error) {
	switch opts.Engine {
	case EngineRawSocket:
		return OpenRawSocket(name, opts)
	default:
		return OpenPcap(name, opts)
	}
}

type pcapHandle struct {
	*pcap.Handle
}

// OpenPcap returns new pcap Handle for the named interface.
func OpenPcap(name string, opts PcapOptions) (Handle, error) {
	inactive, err := pcap.NewInactiveHandle(name)
	if err != nil {
		return nil, errors.Wrapf(err, "inactive handle error, interface: %q", name)
	}
	defer inactive.CleanUp()

	if err = inactive.SetPromisc(opts.Promiscuous); err != nil {
		return nil, errors.Wrapf(err, "promiscuous mode error, interface: %q", name)
	}

	snap := opts.SnapLen
	if snap <= 0 {
		snap = DefaultSnapLen
	}
	if err = inactive.SetSnapLen(snap); err != nil {
		return nil, errors.Wrapf(err, "snapshot length error, interface: %q", name)
	}
	if opts.BufferSize > 0 {
		if err = inactive.SetBufferSize(int(opts.BufferSize)); err != nil {
			return nil, errors.Wrapf(err, "handle buffer size error, interface: %q", name)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err = inactive.SetTimeout(timeout); err != nil {
		return nil, errors.Wrapf(err, "handle buffer timeout error, interface: %q", name)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, errors.Wrapf(err, "PCAP Activate device error, interface: %q", name)
	}

	if opts.BPFFilter != "" {
		if err = handle.SetBPFFilter(opts.BPFFilter); err != nil {
			handle.Close()
			return nil, errors.Wrapf(err, "BPF filter error: %s, interface: %q", opts.BPFFilter, name)
		}
	}
	return &pcapHandle{Handle: handle}, nil
}

func (h *pcapHandle) SetInboundOnly() error {
	return h.SetDirection(pcap.DirectionIn)
}

func (h *pcapHandle) Stats() (*Stats, error) {
	s, err := h.Handle.Stats()
	if err != nil {
		return nil, err
	}
	return &Stats{
		PacketsReceived:  s.PacketsReceived,
		PacketsDropped:   s.PacketsDropped,
		PacketsIfDropped: s.PacketsIfDropped,
	}, nil
}

// IsTimeout reports whether err only means that no frame arrived in time.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	if enext, ok := errors.Cause(err).(pcap.NextError); ok && enext == pcap.NextErrorTimeoutExpired {
		return true
	}
	if eno, ok := errors.Cause(err).(syscall.Errno); ok && eno.Temporary() {
		return true
	}
	var enet net.Error
	if errors.As(err, &enet) && enet.Timeout() {
		return true
	}
	return false
}
