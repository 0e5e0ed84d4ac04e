package core

import "github.com/pion/rtp"

// CaptureSource produces RTP packets from one local device.
// ReadPacket blocks until a packet is available or the source is closed.
type CaptureSource interface {
	ReadPacket() (*rtp.Packet, error)
	Close() error
}

// MediaDevices opens local capture devices. Implementations wrap
// whatever the platform provides; tests use fakes.
type MediaDevices interface {
	OpenMicrophone() (CaptureSource, error)
	OpenCamera() (CaptureSource, error)
	OpenScreen() (CaptureSource, error)
}
