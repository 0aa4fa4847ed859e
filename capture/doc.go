/*
Package capture provides the capture/injection endpoints of the hub, backed by
libpcap or, on linux, by an M'maped AF_PACKET socket.

Every handle reads with a bounded timeout, so callers get control back even on
a silent link; such reads return an error for which IsTimeout reports true.

example:

handle, err := capture.Open("eth0", capture.PcapOptions{
	SnapLen:     65535,
	Promiscuous: true,
	Timeout:     10 * time.Millisecond,
})
if err != nil {
	// handle error
}
if err = handle.SetInboundOnly(); err != nil {
	// handle error
}

for {
	data, ci, err := handle.ReadPacketData()
	if capture.IsTimeout(err) {
		continue
	}
	...
}
*/
package capture // import github.com/vearne/pcaphub/capture
