package biz

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
	"github.com/vearne/pcaphub/capture"
)

// fakeHandle is an in-memory capture.Handle. Frames pushed into frames are
// returned by ReadPacketData, an empty channel behaves like a silent link.
type fakeHandle struct {
	name    string
	timeout time.Duration

	frames  chan []byte
	readErr chan error
	block   chan struct{} // when set, reads wait for it instead of timing out

	inboundErr error
	writeErr   error
	writeDelay time.Duration

	mu        sync.Mutex
	written   [][]byte
	inbound   bool
	closed    bool
	readCalls int
	stats     capture.Stats

	writers    int32
	maxWriters int32
}

func newFakeHandle(name string) *fakeHandle {
	return &fakeHandle{
		name:    name,
		timeout: 2 * time.Millisecond,
		frames:  make(chan []byte, 1024),
		readErr: make(chan error, 16),
	}
}

func (f *fakeHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	f.mu.Lock()
	f.readCalls++
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
		return nil, gopacket.CaptureInfo{}, pcap.NextErrorTimeoutExpired
	}

	select {
	case data := <-f.frames:
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: len(data),
			Length:        len(data),
		}
		return data, ci, nil
	case err := <-f.readErr:
		return nil, gopacket.CaptureInfo{}, err
	case <-time.After(f.timeout):
		return nil, gopacket.CaptureInfo{}, pcap.NextErrorTimeoutExpired
	}
}

func (f *fakeHandle) WritePacketData(data []byte) error {
	n := atomic.AddInt32(&f.writers, 1)
	defer atomic.AddInt32(&f.writers, -1)
	for {
		cur := atomic.LoadInt32(&f.maxWriters)
		if n <= cur || atomic.CompareAndSwapInt32(&f.maxWriters, cur, n) {
			break
		}
	}

	if f.writeDelay > 0 {
		time.Sleep(f.writeDelay)
	}
	if f.writeErr != nil {
		return f.writeErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed handle")
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeHandle) SetInboundOnly() error {
	if f.inboundErr != nil {
		return f.inboundErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = true
	return nil
}

func (f *fakeHandle) Stats() (*capture.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats
	return &s, nil
}

func (f *fakeHandle) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeHandle) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

func (f *fakeHandle) CountOf(data []byte) int {
	n := 0
	for _, w := range f.Written() {
		if bytes.Equal(w, data) {
			n++
		}
	}
	return n
}

func (f *fakeHandle) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeHandle) ReadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCalls
}

// fakeOpener hands out fake handles by name and records the open order.
type fakeOpener struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
	fail    map[string]error
	opened  []string
}

func newFakeOpener(names ...string) *fakeOpener {
	o := &fakeOpener{
		handles: make(map[string]*fakeHandle),
		fail:    make(map[string]error),
	}
	for _, name := range names {
		o.handles[name] = newFakeHandle(name)
	}
	return o
}

func (o *fakeOpener) Open(name string, _ capture.PcapOptions) (capture.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, name)
	if err, ok := o.fail[name]; ok {
		return nil, err
	}
	h, ok := o.handles[name]
	if !ok {
		return nil, errors.Errorf("no such device %s", name)
	}
	return h, nil
}

func (o *fakeOpener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

func frameOf(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}
