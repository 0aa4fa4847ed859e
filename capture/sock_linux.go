//go:build linux
// +build linux

package capture

import (
	"fmt"
	"io"
	"sync"
	"time"
	"unsafe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// ETHALL htons(ETH_P_ALL)
	ETHALL uint16 = unix.ETH_P_ALL<<8 | unix.ETH_P_ALL>>8
	// BLOCKSIZE ring buffer block_size
	BLOCKSIZE = 64 << 10
	// BLOCKNR ring buffer block_nr
	BLOCKNR = (2 << 20) / BLOCKSIZE // 2mb / 64kb
	// FRAMESIZE ring buffer frame_size
	FRAMESIZE = BLOCKSIZE
	// FRAMENR ring buffer frame_nr
	FRAMENR = BLOCKNR * BLOCKSIZE / FRAMESIZE
)

var tpacket2hdrlen = tpAlign(int(unsafe.Sizeof(unix.Tpacket2Hdr{})))

// SockRaw is a linux M'maped af_packet socket
type SockRaw struct {
	mu          sync.Mutex // reads and settings
	wmu         sync.Mutex // writes
	fd          int
	ifindex     int
	snaplen     int
	pollTimeout int    // milliseconds
	frame       uint32 // current frame
	buf         []byte // points to the memory space of the ring buffer shared with the kernel.
	inbound     bool   // drop frames the host itself sent
	stats       Stats
}

// OpenRawSocket returns new M'maped sock_raw on packet version 2 bound to name.
func OpenRawSocket(name string, opts PcapOptions) (Handle, error) {
	link, err := LookupLink(name)
	if err != nil {
		return nil, err
	}

	sock, err := newSockRaw(link.Index)
	if err != nil {
		return nil, errors.Wrapf(err, "sock raw error, interface: %q", name)
	}
	if opts.Promiscuous {
		if err = sock.SetPromiscuous(true); err != nil {
			sock.Close()
			return nil, errors.Wrapf(err, "promiscuous mode error, interface: %q", name)
		}
	}
	if opts.SnapLen > 0 {
		if err = sock.SetSnapLen(opts.SnapLen); err != nil {
			sock.Close()
			return nil, errors.Wrapf(err, "snapshot length error, interface: %q", name)
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sock.SetTimeout(timeout)

	if opts.BPFFilter != "" {
		if err = sock.SetBPFFilter(opts.BPFFilter); err != nil {
			sock.Close()
			return nil, errors.Wrapf(err, "BPF filter error: %s, interface: %q", opts.BPFFilter, name)
		}
	}
	return sock, nil
}

func newSockRaw(ifindex int) (*SockRaw, error) {
	// sock create
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(ETHALL))
	if err != nil {
		return nil, err
	}
	sock := &SockRaw{
		fd:          fd,
		ifindex:     ifindex,
		snaplen:     FRAMESIZE,
		pollTimeout: int(DefaultTimeout / time.Millisecond),
	}

	// set packet version
	err = unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_VERSION, unix.TPACKET_V2)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt packet_version: %v", err)
	}

	// bind to interface
	err = unix.Bind(fd, &unix.SockaddrLinklayer{
		Protocol: ETHALL,
		Ifindex:  ifindex,
	})
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %v", err)
	}

	// create shared-memory ring buffer
	tp := &unix.TpacketReq{
		Block_size: BLOCKSIZE,
		Block_nr:   BLOCKNR,
		Frame_size: FRAMESIZE,
		Frame_nr:   FRAMENR,
	}
	err = unix.SetsockoptTpacketReq(fd, unix.SOL_PACKET, unix.PACKET_RX_RING, tp)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt packet_rx_ring: %v", err)
	}
	sock.buf, err = unix.Mmap(
		fd,
		0,
		BLOCKSIZE*BLOCKNR,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socket mmap error: %v", err)
	}
	return sock, nil
}

// ReadPacketData implements gopacket.PacketDataSource.
// It returns ErrTimeout if nothing arrived within the poll timeout, and the
// pending socket error if the kernel reports one (e.g. the link went down).
func (sock *SockRaw) ReadPacketData() (buf []byte, ci gopacket.CaptureInfo, err error) {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if sock.fd == -1 {
		return nil, ci, io.EOF
	}

	deadline := time.Now().Add(time.Duration(sock.pollTimeout) * time.Millisecond)
	poll := []unix.PollFd{{Fd: int32(sock.fd), Events: unix.POLLIN}}
	for {
		i := int(sock.frame * FRAMESIZE)
		tpHdr := (*unix.Tpacket2Hdr)(unsafe.Pointer(&sock.buf[i]))

		if tpHdr.Status&unix.TP_STATUS_USER == 0 {
			wait := int(time.Until(deadline) / time.Millisecond)
			if wait <= 0 {
				return nil, ci, ErrTimeout
			}
			poll[0].Revents = 0
			n, e := unix.Poll(poll, wait)
			if e == unix.EINTR {
				continue
			}
			if e != nil {
				return nil, ci, e
			}
			if n == 0 {
				return nil, ci, ErrTimeout
			}
			if revents := poll[0].Revents; revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				return nil, ci, sock.pollError(revents)
			}
			continue
		}

		sockAddr := (*unix.RawSockaddrLinklayer)(unsafe.Pointer(&sock.buf[i+tpacket2hdrlen]))
		if sock.inbound && sockAddr.Pkttype == unix.PACKET_OUTGOING {
			sock.release(tpHdr)
			continue
		}

		ci.Length = int(tpHdr.Len)
		ci.Timestamp = time.Unix(int64(tpHdr.Sec), int64(tpHdr.Nsec))
		ci.InterfaceIndex = int(sockAddr.Ifindex)
		snaplen := int(tpHdr.Snaplen)
		if sock.snaplen > 0 && snaplen > sock.snaplen {
			snaplen = sock.snaplen
		}
		start := i + int(tpHdr.Mac)
		buf = make([]byte, snaplen)
		ci.CaptureLength = copy(buf, sock.buf[start:start+snaplen])
		sock.release(tpHdr)
		return buf, ci, nil
	}
}

// pollError turns an error condition reported by poll into an error,
// clearing the pending socket error so the next read can succeed.
func (sock *SockRaw) pollError(revents int16) error {
	if revents&unix.POLLERR != 0 {
		errno, err := unix.GetsockoptInt(sock.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return errors.Wrap(err, "getsockopt so_error")
		}
		if errno != 0 {
			return unix.Errno(errno)
		}
	}
	return errors.Errorf("poll error, revents:%#x", revents)
}

// release hands the current frame back to the kernel.
func (sock *SockRaw) release(tpHdr *unix.Tpacket2Hdr) {
	tpHdr.Status = unix.TP_STATUS_KERNEL
	sock.frame = (sock.frame + 1) % FRAMENR
}

// SetInboundOnly makes ReadPacketData skip frames with PACKET_OUTGOING type,
// which includes everything written through this socket.
func (sock *SockRaw) SetInboundOnly() error {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if sock.fd == -1 {
		return io.ErrClosedPipe
	}
	sock.inbound = true
	return nil
}

// Close closes the underlying socket
func (sock *SockRaw) Close() {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	sock.wmu.Lock()
	defer sock.wmu.Unlock()
	if sock.fd != -1 {
		// nolint: errcheck
		unix.Munmap(sock.buf)
		sock.buf = nil
		// nolint: errcheck
		unix.Close(sock.fd)
		sock.fd = -1
	}
}

// SetSnapLen sets the maximum number of bytes ReadPacketData returns per frame.
func (sock *SockRaw) SetSnapLen(snap int) error {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if snap < 0 {
		return fmt.Errorf("expected %d snap length to be at least 0", snap)
	}
	if snap > FRAMESIZE {
		snap = FRAMESIZE
	}
	sock.snaplen = snap
	return nil
}

// SetTimeout sets poll wait timeout for the socket.
func (sock *SockRaw) SetTimeout(t time.Duration) {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	ms := int(t / time.Millisecond)
	if ms <= 0 {
		ms = 1
	}
	sock.pollTimeout = ms
}

// SetBPFFilter compiles and sets a BPF filter for the socket handle.
func (sock *SockRaw) SetBPFFilter(expr string) error {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if expr == "" {
		return unix.SetsockoptInt(sock.fd, unix.SOL_SOCKET, unix.SO_DETACH_FILTER, 0)
	}
	instructions, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, sock.snaplen, expr)
	if err != nil {
		return err
	}
	if len(instructions) > int(^uint16(0)) {
		return fmt.Errorf("filters out of range 0-%d", ^uint16(0))
	}
	if len(instructions) == 0 {
		return unix.SetsockoptInt(sock.fd, unix.SOL_SOCKET, unix.SO_DETACH_FILTER, 0)
	}
	filter := make([]unix.SockFilter, len(instructions))
	for i, ins := range instructions {
		filter[i] = unix.SockFilter{Code: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := &unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}
	return unix.SetsockoptSockFprog(sock.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, fprog)
}

// SetPromiscuous sets promiscuous mode to the required value.
// If it is enabled, traffic not destined for the interface will also be captured.
func (sock *SockRaw) SetPromiscuous(b bool) error {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	mreq := unix.PacketMreq{
		Ifindex: int32(sock.ifindex),
		Type:    unix.PACKET_MR_PROMISC,
	}

	opt := unix.PACKET_ADD_MEMBERSHIP
	if !b {
		opt = unix.PACKET_DROP_MEMBERSHIP
	}

	return unix.SetsockoptPacketMreq(sock.fd, unix.SOL_PACKET, opt, &mreq)
}

// Stats returns cumulative counters. The kernel resets its own counters on
// every PACKET_STATISTICS call so they are summed here.
func (sock *SockRaw) Stats() (*Stats, error) {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if sock.fd == -1 {
		return nil, io.ErrClosedPipe
	}
	s, err := unix.GetsockoptTpacketStats(sock.fd, unix.SOL_PACKET, unix.PACKET_STATISTICS)
	if err != nil {
		return nil, err
	}
	sock.stats.PacketsReceived += int(s.Packets)
	sock.stats.PacketsDropped += int(s.Drops)
	stats := sock.stats
	return &stats, nil
}

// WritePacketData transmits a raw packet.
// It does not wait for a pending read.
func (sock *SockRaw) WritePacketData(pkt []byte) error {
	sock.wmu.Lock()
	defer sock.wmu.Unlock()
	if sock.fd == -1 {
		return io.ErrClosedPipe
	}
	_, err := unix.Write(sock.fd, pkt)
	return err
}

func tpAlign(x int) int {
	return int((uint(x) + unix.TPACKET_ALIGNMENT - 1) &^ (unix.TPACKET_ALIGNMENT - 1))
}
