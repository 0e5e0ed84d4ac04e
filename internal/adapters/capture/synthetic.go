// Package capture provides capture-source adapters. Real device
// capture lives outside this repo (the engine only moves RTP); the
// synthetic devices here generate valid packet streams for the client
// binary and for soak testing.
package capture

import (
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/lessonlive/meetmesh/internal/core"
)

// opusSilence is a minimal Opus frame decoding to silence.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

const (
	audioInterval  = 20 * time.Millisecond
	audioClockStep = 960 // 48kHz * 20ms
	videoInterval  = 33 * time.Millisecond
	videoClockStep = 3000 // 90kHz * ~33ms
)

// SyntheticDevices implements core.MediaDevices with generated streams.
type SyntheticDevices struct{}

func NewSyntheticDevices() *SyntheticDevices { return &SyntheticDevices{} }

func (SyntheticDevices) OpenMicrophone() (core.CaptureSource, error) {
	return newSource(111, audioInterval, audioClockStep, opusSilence), nil
}

func (SyntheticDevices) OpenCamera() (core.CaptureSource, error) {
	return newSource(96, videoInterval, videoClockStep, make([]byte, 64)), nil
}

func (SyntheticDevices) OpenScreen() (core.CaptureSource, error) {
	return newSource(96, videoInterval, videoClockStep, make([]byte, 128)), nil
}

type source struct {
	pt        uint8
	interval  time.Duration
	clockStep uint32
	payload   []byte

	seq  uint16
	ts   uint32
	ssrc uint32

	once   sync.Once
	closed chan struct{}
}

func newSource(pt uint8, interval time.Duration, clockStep uint32, payload []byte) *source {
	return &source{
		pt:        pt,
		interval:  interval,
		clockStep: clockStep,
		payload:   payload,
		seq:       uint16(rand.Uint32()),
		ts:        rand.Uint32(),
		ssrc:      rand.Uint32(),
		closed:    make(chan struct{}),
	}
}

func (s *source) ReadPacket() (*rtp.Packet, error) {
	select {
	case <-s.closed:
		return nil, io.EOF
	case <-time.After(s.interval):
	}
	s.seq++
	s.ts += s.clockStep
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.pt,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: s.payload,
	}, nil
}

func (s *source) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
