// Package biz 包含 pcaphub 的核心业务逻辑：打开接口、每个接口一个抓包 goroutine、
// 以及把收到的帧转发到其它所有接口。
package biz

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vearne/pcaphub/capture"
	"github.com/vearne/pcaphub/config"
	"github.com/vearne/pcaphub/util"
	slog "github.com/vearne/simplelog"
)

// OpenError identifies the interface that stopped the hub from starting.
type OpenError struct {
	Interface string
	Op        string
	Err       error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Interface, e.Err)
}

func (e *OpenError) Cause() error {
	return e.Err
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// HandleSet is the ordered, fixed set of ports of the hub.
// It must not be modified once the capture workers are started.
type HandleSet struct {
	ports     []*Port
	closeOnce sync.Once
}

// OpenHandleSet opens every interface in order and restricts it to inbound
// traffic. It fails fast: on the first error the ports opened so far are
// closed and an *OpenError naming the interface is returned.
func OpenHandleSet(names []string, opts capture.PcapOptions, open capture.OpenFunc) (*HandleSet, error) {
	if len(names) < 2 {
		return nil, config.ErrTooFewInterfaces
	}
	seen := util.NewStringSet()
	for _, name := range names {
		if seen.Has(name) {
			return nil, errors.Errorf("interface %s specified more than once", name)
		}
		seen.Add(name)
	}

	set := &HandleSet{ports: make([]*Port, 0, len(names))}
	for _, name := range names {
		port, err := openPort(name, opts, open)
		if err != nil {
			set.Close()
			return nil, err
		}
		set.ports = append(set.ports, port)
		slog.Info("Opened %v for capture.", port)
	}
	return set, nil
}

func openPort(name string, opts capture.PcapOptions, open capture.OpenFunc) (*Port, error) {
	handle, err := open(name, opts)
	if err != nil {
		return nil, &OpenError{Interface: name, Op: "open", Err: err}
	}

	// without it every injected frame would be captured again
	if err = handle.SetInboundOnly(); err != nil {
		handle.Close()
		return nil, &OpenError{Interface: name, Op: "set inbound direction on", Err: err}
	}

	port := newPort(name, handle)
	if link, err := capture.LookupLink(name); err == nil {
		port.link = link
	} else {
		slog.Debug("LookupLink, interface:%v, error:%v", name, err)
	}
	return port, nil
}

// Ports returns the ports in the order the interfaces were given.
func (s *HandleSet) Ports() []*Port {
	return s.ports
}

func (s *HandleSet) Len() int {
	return len(s.ports)
}

func (s *HandleSet) Names() []string {
	names := make([]string, len(s.ports))
	for i, p := range s.ports {
		names[i] = p.name
	}
	return names
}

// Close closes every port. It is safe to call more than once.
func (s *HandleSet) Close() {
	s.closeOnce.Do(func() {
		for _, p := range s.ports {
			p.close()
			slog.Debug("closed %v", p.name)
		}
	})
}

func (s *HandleSet) String() string {
	return fmt.Sprintf("#####  ports:%d [%s]  #####", len(s.ports), strings.Join(s.Names(), ", "))
}
