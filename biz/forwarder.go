package biz

import (
	"github.com/vearne/pcaphub/model"
	slog "github.com/vearne/simplelog"
)

// Forwarder repeats a frame out of every port except the one it came from.
type Forwarder struct {
	set *HandleSet
}

func NewForwarder(set *HandleSet) *Forwarder {
	return &Forwarder{set: set}
}

// FanOut writes frame to every port other than src and returns the number
// of successful writes. A failed write is counted on the destination and
// does not stop the remaining ones.
func (f *Forwarder) FanOut(src *Port, frame *model.Frame) int {
	data := frame.Bytes()
	sent := 0
	for _, dst := range f.set.ports {
		// identity, never content
		if dst == src {
			continue
		}
		if err := dst.Write(data); err != nil {
			dst.stats.sendErrors.Add(1)
			slog.Debug("FanOut, %v -> %v, len:%v, error:%v", src.name, dst.name, len(data), err)
			continue
		}
		dst.stats.framesSent.Add(1)
		sent++
	}
	return sent
}
