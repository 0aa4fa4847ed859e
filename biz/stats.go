package biz

import (
	"expvar"
)

var stats *expvar.Map

func init() {
	stats = expvar.NewMap("hub")
	stats.Init()
}

// portStats are the per interface counters published under hub.<interface>.
// Steady-state failures are only visible here.
type portStats struct {
	m *expvar.Map

	framesReceived expvar.Int // captured on this interface
	framesSent     expvar.Int // injected into this interface
	sendErrors     expvar.Int
	readErrors     expvar.Int

	// from the capture engine
	packetsReceived  expvar.Int
	packetsDropped   expvar.Int
	packetsIfDropped expvar.Int
}

func newPortStats(name string) *portStats {
	s := &portStats{m: new(expvar.Map).Init()}
	s.m.Set("frames_received", &s.framesReceived)
	s.m.Set("frames_sent", &s.framesSent)
	s.m.Set("send_errors", &s.sendErrors)
	s.m.Set("read_errors", &s.readErrors)
	s.m.Set("packets_received", &s.packetsReceived)
	s.m.Set("packets_dropped", &s.packetsDropped)
	s.m.Set("packets_if_dropped", &s.packetsIfDropped)
	stats.Set(name, s.m)
	return s
}
