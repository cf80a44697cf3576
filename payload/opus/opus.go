// Package opus demonstrates the handler plug interface with a real
// codec: a primary handler that decodes the Opus payload carried in each
// RTP frame and an auxiliary handler that logs the decoded bandwidth.
// Payload-specific fragmentation/jitter policy is intentionally out of
// scope here -- this exists to prove the handler interface accepts a
// genuine third-party codec, not to be a production depacketizer.
package opus

import (
	"fmt"

	pionopus "github.com/pion/opus"

	"github.com/opd-ai/rtpflow/frame"
	"github.com/opd-ai/rtpflow/handler"
	"github.com/opd-ai/rtpflow/internal/logging"
)

// decodeBufferSamples sizes the PCM scratch buffer for 40ms at 48kHz
// stereo, the largest Opus frame duration in common use. The scratch
// buffer holds little-endian 16-bit samples, so it is twice this many
// bytes long.
const decodeBufferSamples = 1920 * 2

// DecodedFrame carries the PCM samples produced by Handler, wrapped so
// it still satisfies frame.Frame and can flow through the same registry
// and delivery endpoint as any other frame.
type DecodedFrame struct {
	PCM       []int16
	Bandwidth string
	Stereo    bool
	raw       []byte
}

func (f *DecodedFrame) Kind() frame.Kind { return frame.KindRaw }
func (f *DecodedFrame) Raw() []byte      { return f.raw }

// Handler wraps a pion/opus decoder behind the handler.Func signature.
type Handler struct {
	decoder *pionopus.Decoder
	scratch []byte
	log     *logging.Helper
}

// New creates an Opus-decoding handler.
func New() *Handler {
	decoder := pionopus.NewDecoder()
	return &Handler{
		decoder: &decoder,
		scratch: make([]byte, decodeBufferSamples*2),
		log:     logging.New("payload/opus"),
	}
}

// Decode is the primary handler: it treats an RTP frame's payload as an
// Opus packet and decodes it to PCM. It reports Modified rather than
// Ready so LogBandwidth, installed as its auxiliary, gets a chance to
// observe the decoded frame before it is handed to delivery.
func (h *Handler) Decode(f frame.Frame, flags int32) handler.Result {
	rtpFrame, ok := f.(*frame.RTPFrame)
	if !ok {
		return handler.Result{Outcome: handler.NotHandled}
	}

	bandwidth, stereo, err := h.decoder.Decode(rtpFrame.Packet.Payload, h.scratch)
	if err != nil {
		return handler.Result{Outcome: handler.Error, Err: fmt.Errorf("payload/opus: decode: %w", err)}
	}

	pcm := bytesToInt16(h.scratch)
	out := &DecodedFrame{PCM: pcm, Bandwidth: bandwidth.String(), Stereo: stereo, raw: rtpFrame.Bytes}
	return handler.Result{Outcome: handler.Modified, Frames: []frame.Frame{out}}
}

// LogBandwidth is an auxiliary handler that records the bandwidth class
// of each decoded frame, then reports it ready for delivery -- the
// decode step transforms but does not deliver, so this is the one step
// in the chain that promotes the frame to Ready.
func (h *Handler) LogBandwidth(f frame.Frame, flags int32) handler.Result {
	df, ok := f.(*DecodedFrame)
	if !ok {
		return handler.Result{Outcome: handler.Ok}
	}
	h.log.With("bandwidth", df.Bandwidth).Debug("decoded opus frame")
	return handler.Result{Outcome: handler.Ready, Frames: []frame.Frame{df}}
}

func bytesToInt16(buf []byte) []int16 {
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(buf[2*i]) | int16(buf[2*i+1])<<8
	}
	return out
}
