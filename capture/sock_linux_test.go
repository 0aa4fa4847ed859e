//go:build linux
// +build linux

package capture

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newRingSock builds a SockRaw over an in-memory ring. The socket fd is the
// read end of a pipe, so polling it needs no privileges. hangup closes the
// write end.
func newRingSock(t *testing.T) (sock *SockRaw, hangup func()) {
	p := make([]int, 2)
	require.Nil(t, unix.Pipe(p))
	var once sync.Once
	hangup = func() {
		once.Do(func() {
			// nolint: errcheck
			unix.Close(p[1])
		})
	}
	t.Cleanup(hangup)

	sock = &SockRaw{
		fd:          p[0],
		snaplen:     FRAMESIZE,
		pollTimeout: 10,
		buf:         make([]byte, FRAMESIZE*FRAMENR),
	}
	t.Cleanup(sock.Close)
	return sock, hangup
}

// putFrame fills ring slot the way the kernel does for TPACKET_V2.
func putFrame(buf []byte, slot int, pkttype uint8, data []byte) *unix.Tpacket2Hdr {
	off := slot * FRAMESIZE
	mac := tpAlign(tpacket2hdrlen + int(unsafe.Sizeof(unix.RawSockaddrLinklayer{})))
	copy(buf[off+mac:], data)

	ll := (*unix.RawSockaddrLinklayer)(unsafe.Pointer(&buf[off+tpacket2hdrlen]))
	ll.Ifindex = 3
	ll.Pkttype = pkttype

	hdr := (*unix.Tpacket2Hdr)(unsafe.Pointer(&buf[off]))
	hdr.Len = uint32(len(data))
	hdr.Snaplen = uint32(len(data))
	hdr.Mac = uint16(mac)
	hdr.Sec = 1700000000
	hdr.Status = unix.TP_STATUS_USER
	return hdr
}

func TestSockRawReadHostFrame(t *testing.T) {
	sock, _ := newRingSock(t)
	data := bytes.Repeat([]byte{0xAB}, 60)
	hdr := putFrame(sock.buf, 0, unix.PACKET_HOST, data)

	buf, ci, err := sock.ReadPacketData()
	require.Nil(t, err)
	assert.Equal(t, data, buf)
	assert.Equal(t, 60, ci.Length)
	assert.Equal(t, 60, ci.CaptureLength)
	assert.Equal(t, 3, ci.InterfaceIndex)
	assert.Equal(t, int64(1700000000), ci.Timestamp.Unix())

	assert.Equal(t, uint32(unix.TP_STATUS_KERNEL), hdr.Status)
	assert.Equal(t, uint32(1), sock.frame)
}

func TestSockRawInboundOnlySkipsOutgoing(t *testing.T) {
	sock, _ := newRingSock(t)
	require.Nil(t, sock.SetInboundOnly())

	sent := bytes.Repeat([]byte{0x01}, 60)
	received := bytes.Repeat([]byte{0x02}, 42)
	outHdr := putFrame(sock.buf, 0, unix.PACKET_OUTGOING, sent)
	putFrame(sock.buf, 1, unix.PACKET_HOST, received)

	buf, _, err := sock.ReadPacketData()
	require.Nil(t, err)
	assert.Equal(t, received, buf)
	assert.Equal(t, uint32(unix.TP_STATUS_KERNEL), outHdr.Status, "skipped frame must be released")
	assert.Equal(t, uint32(2), sock.frame)

	// nothing left in the ring
	_, _, err = sock.ReadPacketData()
	assert.True(t, IsTimeout(err))
}

func TestSockRawOutgoingWithoutInboundOnly(t *testing.T) {
	sock, _ := newRingSock(t)
	sent := bytes.Repeat([]byte{0x01}, 60)
	putFrame(sock.buf, 0, unix.PACKET_OUTGOING, sent)

	buf, _, err := sock.ReadPacketData()
	require.Nil(t, err)
	assert.Equal(t, sent, buf)
}

func TestSockRawRingWraps(t *testing.T) {
	sock, _ := newRingSock(t)
	sock.frame = FRAMENR - 1
	data := bytes.Repeat([]byte{0x7F}, 64)
	putFrame(sock.buf, FRAMENR-1, unix.PACKET_HOST, data)

	buf, _, err := sock.ReadPacketData()
	require.Nil(t, err)
	assert.Equal(t, data, buf)
	assert.Equal(t, uint32(0), sock.frame)
}

func TestSockRawSnapLen(t *testing.T) {
	sock, _ := newRingSock(t)
	require.Nil(t, sock.SetSnapLen(16))
	data := bytes.Repeat([]byte{0x55}, 60)
	putFrame(sock.buf, 0, unix.PACKET_HOST, data)

	buf, ci, err := sock.ReadPacketData()
	require.Nil(t, err)
	assert.Equal(t, data[:16], buf)
	assert.Equal(t, 16, ci.CaptureLength)
	assert.Equal(t, 60, ci.Length)
}

func TestSockRawReadTimeout(t *testing.T) {
	sock, _ := newRingSock(t)

	start := time.Now()
	_, _, err := sock.ReadPacketData()
	assert.Equal(t, ErrTimeout, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSockRawReadReturnsOnHangup(t *testing.T) {
	sock, hangup := newRingSock(t)
	// poll now reports POLLHUP on every call
	hangup()

	errCh := make(chan error, 1)
	go func() {
		_, _, err := sock.ReadPacketData()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		require.NotNil(t, err)
		assert.False(t, IsTimeout(err), "a hung up socket is a read error, got:%v", err)
	case <-time.After(time.Second):
		t.Fatalf("ReadPacketData did not return with a 10ms timeout")
	}

	closed := make(chan struct{})
	go func() {
		sock.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("Close blocked after a failed read")
	}
}

func TestSockRawClosed(t *testing.T) {
	sock, _ := newRingSock(t)
	sock.Close()
	sock.Close()

	assert.Equal(t, io.ErrClosedPipe, sock.WritePacketData([]byte{1, 2, 3}))
	assert.Equal(t, io.ErrClosedPipe, sock.SetInboundOnly())
	_, _, err := sock.ReadPacketData()
	assert.Equal(t, io.EOF, err)
	_, err = sock.Stats()
	assert.Equal(t, io.ErrClosedPipe, err)
}
