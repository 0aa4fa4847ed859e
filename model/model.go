package model

import "github.com/google/gopacket"

// Frame represents one captured link-layer frame. It lives only for the
// duration of a single capture event and is never modified after capture.
type Frame struct {
	Data        []byte
	CaptureInfo gopacket.CaptureInfo
}

// NewFrame wraps data read from a capture handle.
func NewFrame(data []byte, ci gopacket.CaptureInfo) *Frame {
	if ci.CaptureLength == 0 || ci.CaptureLength > len(data) {
		ci.CaptureLength = len(data)
	}
	return &Frame{Data: data, CaptureInfo: ci}
}

// Len returns the captured length.
func (f *Frame) Len() int {
	return f.CaptureInfo.CaptureLength
}

// Bytes returns the captured part of the frame, the bytes that are repeated.
func (f *Frame) Bytes() []byte {
	return f.Data[:f.Len()]
}
