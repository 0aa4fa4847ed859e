package biz

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vearne/pcaphub/capture"
	"github.com/vearne/pcaphub/config"
	slog "github.com/vearne/simplelog"
)

// ErrStopTimeout is returned by Stop when some capture worker did not return
// within the given wait.
var ErrStopTimeout = errors.New("capture workers did not stop in time")

// Hub 负责管理所有抓包 goroutine 的生命周期。
// 每个接口一个 goroutine，从该接口读取帧并通过 Forwarder 发送到其它所有接口。
type Hub struct {
	sync.WaitGroup // capture workers

	set       *HandleSet
	forwarder *Forwarder

	statsInterval time.Duration
	errorBackoff  time.Duration

	cancel      context.CancelFunc
	poller      sync.WaitGroup
	workersDone chan struct{}
	finished    chan struct{}
}

// NewHub creates a hub over an already opened set.
func NewHub(set *HandleSet, settings *config.AppSettings) *Hub {
	h := &Hub{
		set:           set,
		forwarder:     NewForwarder(set),
		statsInterval: settings.StatsInterval,
		errorBackoff:  settings.ReadTimeout,
		workersDone:   make(chan struct{}),
		finished:      make(chan struct{}),
	}
	if h.errorBackoff <= 0 {
		h.errorBackoff = config.DefaultReadTimeout
	}
	return h
}

// Start spawns exactly one capture worker per port. The workers run until ctx
// is done or Stop is called.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)

	for _, port := range h.set.ports {
		h.Add(1)
		go func(p *Port) {
			defer h.Done()
			h.capture(ctx, p)
		}(port)
	}

	if h.statsInterval > 0 {
		h.poller.Add(1)
		go func() {
			defer h.poller.Done()
			h.pollStats(ctx)
		}()
	}

	go func() {
		h.Wait()
		close(h.workersDone)
		h.poller.Wait()
		close(h.finished)
	}()
}

// Finished is closed once every capture worker has returned.
func (h *Hub) Finished() <-chan struct{} {
	return h.finished
}

// Stop cancels the workers and waits at most timeout for them to return.
// The ports are left open, close the set afterwards.
func (h *Hub) Stop(timeout time.Duration) error {
	if h.cancel == nil {
		return nil
	}
	h.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.finished:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// capture is the loop of one worker. It is the only reader of port.
func (h *Hub) capture(ctx context.Context, port *Port) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	slog.Debug("[start]Hub.capture, interface:%v", port.name)
	defer slog.Debug("[end]Hub.capture, interface:%v", port.name)

	done := ctx.Done()
	for {
		select {
		case <-done:
			return
		default:
		}

		frame, err := port.Read()
		if err != nil {
			if capture.IsTimeout(err) {
				continue
			}
			// keep the other ports forwarding, retry this one after a pause
			port.stats.readErrors.Add(1)
			slog.Debug("Hub.capture, interface:%v, error:%v", port.name, err)
			select {
			case <-done:
				return
			case <-time.After(h.errorBackoff):
			}
			continue
		}

		port.stats.framesReceived.Add(1)
		h.forwarder.FanOut(port, frame)
	}
}

func (h *Hub) pollStats(ctx context.Context) {
	ticker := time.NewTicker(h.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.workersDone:
			return
		case <-ticker.C:
			for _, p := range h.set.ports {
				s, err := p.handle.Stats()
				if err != nil {
					slog.Debug("Hub.pollStats, interface:%v, error:%v", p.name, err)
					continue
				}
				p.stats.packetsReceived.Set(int64(s.PacketsReceived))
				p.stats.packetsDropped.Set(int64(s.PacketsDropped))
				p.stats.packetsIfDropped.Set(int64(s.PacketsIfDropped))
			}
		}
	}
}
