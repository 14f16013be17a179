package media

import (
	"math/rand/v2"
	"time"

	"github.com/pion/rtp"
)

const (
	// FrameSize is one paced frame: 20 ms of 8 kHz 8-bit µ-law.
	FrameSize = 160

	// FrameDuration is the pacing period.
	FrameDuration = 20 * time.Millisecond

	// payloadTypePCMU is the static RTP payload type for µ-law.
	payloadTypePCMU = 0

	// rtpHeaderSize is the fixed part of an RTP header.
	rtpHeaderSize = 12
)

// packetizer carries the per-session RTP sequence state. The sequence
// number wraps at 16 bits and the timestamp advances one tick per
// payload byte (one sample per byte at 8 kHz µ-law), wrapping at 32
// bits; both wrap through native unsigned arithmetic.
type packetizer struct {
	seq  uint16
	ts   uint32
	ssrc uint32
}

func newPacketizer() packetizer {
	return packetizer{ssrc: rand.Uint32()}
}

// packet builds one serialized RTP packet around payload. marker flags
// the first packet of a talkspurt.
func (p *packetizer) packet(payload []byte, marker bool) ([]byte, error) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    payloadTypePCMU,
			SequenceNumber: p.seq,
			Timestamp:      p.ts,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	p.seq++
	p.ts += uint32(len(payload))
	return pkt.Marshal()
}

// chunkFrames splits buf into FrameSize frames. The final frame may be
// short; frames alias buf rather than copying.
func chunkFrames(buf []byte) [][]byte {
	frames := make([][]byte, 0, (len(buf)+FrameSize-1)/FrameSize)
	for off := 0; off < len(buf); off += FrameSize {
		end := off + FrameSize
		if end > len(buf) {
			end = len(buf)
		}
		frames = append(frames, buf[off:end])
	}
	return frames
}

// payloadOffset computes the RTP header length of an inbound datagram
// from the CSRC count in the low 4 bits of the first byte. Header
// extensions are not expected on this path.
func payloadOffset(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	return rtpHeaderSize + 4*int(b[0]&0x0F)
}
