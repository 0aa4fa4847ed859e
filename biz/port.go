package biz

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/vearne/pcaphub/capture"
	"github.com/vearne/pcaphub/model"
)

// ErrPortClosed is returned when writing to a port after the set was closed.
var ErrPortClosed = errors.New("port closed")

// Port is one opened interface of the hub.
// Only its own capture worker reads from it; every other worker may write to it.
type Port struct {
	name   string
	handle capture.Handle
	link   *capture.Link // nil if the interface could not be looked up

	// mu serializes injection into this port only, reads are not affected
	mu     sync.Mutex
	closed bool

	stats *portStats
}

func newPort(name string, handle capture.Handle) *Port {
	return &Port{
		name:   name,
		handle: handle,
		stats:  newPortStats(name),
	}
}

func (p *Port) Name() string {
	return p.name
}

func (p *Port) String() string {
	if p.link != nil {
		return p.link.String()
	}
	return p.name
}

// Read blocks up to the handle timeout for the next inbound frame.
func (p *Port) Read() (*model.Frame, error) {
	data, ci, err := p.handle.ReadPacketData()
	if err != nil {
		return nil, err
	}
	return model.NewFrame(data, ci), nil
}

// Write injects data into the interface.
func (p *Port) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	return p.handle.WritePacketData(data)
}

func (p *Port) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.handle.Close()
}
